package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/tether/internal/cache"
	"github.com/roach88/tether/internal/clockwork"
	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/constraint"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/reconcile"
	"github.com/roach88/tether/internal/store"
)

// DefaultMaxClicks is the default click quota per context.
const DefaultMaxClicks = 32

// Stored status values for contexts that are not final. Final contexts are
// stored with their outcome status.
const (
	StatusSuspended = "suspended"
	StatusPending   = "pending"
)

var events = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Processed engine events by type and resulting progress.",
	},
	[]string{"type", "progress"},
)

// Collectors returns the engine metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{events}
}

// Result is the state of a context after an event.
type Result struct {
	Context  *model.Context
	Progress clockwork.Progress
	Err      error
}

// Engine is the single-writer context runner.
//
// Thread-safety model:
//   - Enqueue(), Do(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Process(): must not run concurrently with Run() or itself
type Engine struct {
	store     *store.Store
	connector connector.Connector
	resources *ir.ResourceSet
	ids       IDGenerator
	seq       Sequencer
	queue     *eventQueue
	quota     *QuotaEnforcer

	gate          clockwork.Gate
	maxIterations int
	cacheOpts     []cache.Option
	logger        *slog.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxClicks sets the click quota per context.
//
// Default: 32 clicks (DefaultMaxClicks)
func WithMaxClicks(n int) EngineOption {
	return func(e *Engine) {
		e.quota = NewQuotaEnforcer(n)
	}
}

// WithMaxIterations bounds the projection fixed point of every context.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithGate installs the approval gate.
func WithGate(g clockwork.Gate) EngineOption {
	return func(e *Engine) {
		e.gate = g
	}
}

// WithCacheOptions configures the cache scope created for every event.
func WithCacheOptions(opts ...cache.Option) EngineOption {
	return func(e *Engine) {
		e.cacheOpts = append(e.cacheOpts, opts...)
	}
}

// WithSequencer replaces the logical clock used to stamp saved contexts.
// Use NewClockAt(store.MaxContextSeq) to continue an existing database.
func WithSequencer(s Sequencer) EngineOption {
	return func(e *Engine) {
		e.seq = s
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine. The store is both the authoritative object store
// and where contexts are persisted.
func New(
	s *store.Store,
	conn connector.Connector,
	resources *ir.ResourceSet,
	ids IDGenerator,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:         s,
		connector:     conn,
		resources:     resources,
		ids:           ids,
		seq:           NewClock(),
		queue:         newEventQueue(),
		quota:         NewQuotaEnforcer(DefaultMaxClicks),
		maxIterations: clockwork.DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	ev.reply = nil
	return e.queue.Enqueue(ev)
}

// Do enqueues ev and waits for the Run loop to process it.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Do(ctx context.Context, ev Event) (Result, error) {
	ev.reply = make(chan Result, 1)
	if !e.queue.Enqueue(ev) {
		return Result{}, newRuntimeError(ErrCodeStopped, ev.ContextID, "engine stopped")
	}
	select {
	case res := <-ev.reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Process handles one event synchronously.
func (e *Engine) Process(ctx context.Context, ev Event) (Result, error) {
	res := e.processEvent(ctx, ev)
	return res, res.Err
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// ERROR HANDLING: A failed event is logged and reported to its waiter;
// processing continues with the next event.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			res := e.processEvent(ctx, ev)
			if res.Err != nil {
				e.logger.Error("event processing failed",
					"event", ev.Type,
					"context", contextID(ev, res),
					"error", res.Err)
			}
			if ev.reply != nil {
				ev.reply <- res
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue.
			if e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue. Run returns once queued events are drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// QueueLen returns the current number of pending events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Load returns the stored context with the given id.
func (e *Engine) Load(ctx context.Context, id string) (*model.Context, error) {
	rec, err := e.store.LoadContext(ctx, id)
	if errors.Is(err, store.ErrContextNotFound) {
		return nil, &RuntimeError{Code: ErrCodeUnknownContext, Message: "no such context", ContextID: id, Err: err}
	}
	if err != nil {
		return nil, err
	}
	c, err := model.FromPortable(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("decode context %s: %w", id, err)
	}
	return c, nil
}

// List returns the stored context records, optionally filtered by phase.
func (e *Engine) List(ctx context.Context, phase model.Phase) ([]store.ContextRecord, error) {
	return e.store.ListContexts(ctx, string(phase))
}

func (e *Engine) processEvent(ctx context.Context, ev Event) Result {
	var res Result
	switch ev.Type {
	case EventTypeSubmit:
		res = e.processSubmit(ctx, ev.Change)
	case EventTypeResume:
		res = e.processResume(ctx, ev.ContextID, ev.Decision)
	case EventTypeCancel:
		res = e.processCancel(ctx, ev.ContextID)
	default:
		res = Result{Err: fmt.Errorf("unknown event type: %d", ev.Type)}
	}
	events.WithLabelValues(ev.Type.String(), progressLabel(res)).Inc()
	return res
}

func (e *Engine) processSubmit(ctx context.Context, ch *Change) Result {
	if ch == nil || ch.Delta == nil {
		return Result{Err: newRuntimeError(ErrCodeInvalidChange, "", "submit without a change")}
	}
	typ, oid := ch.Type, ch.OID
	if typ == "" {
		typ = ch.Delta.Type
	}
	if oid == "" {
		oid = ch.Delta.OID
		if ch.Delta.Object != nil && oid == "" {
			oid = ch.Delta.Object.ID
		}
	}

	c := model.New(e.ids.Generate(), typ, oid, ch.Delta.Clone())
	e.logger.Info("context submitted",
		"context", c.ID,
		"type", typ,
		"oid", oid,
		"change", ch.Delta.ChangeType)
	return e.drive(ctx, c, DecisionNone)
}

func (e *Engine) processResume(ctx context.Context, id string, d Decision) Result {
	c, err := e.Load(ctx, id)
	if err != nil {
		return Result{Err: err}
	}
	if c.Final() {
		return Result{Context: c, Progress: clockwork.ProgressFinal}
	}
	return e.drive(ctx, c, d)
}

func (e *Engine) processCancel(ctx context.Context, id string) Result {
	c, err := e.Load(ctx, id)
	if err != nil {
		return Result{Err: err}
	}
	if !clockwork.Suspended(c) {
		return Result{Context: c, Progress: progressOf(c), Err: newRuntimeError(ErrCodeNotSuspended, id, "only a suspended context can be cancelled")}
	}

	scope := cache.Begin(e.cacheOpts...)
	defer scope.End()
	if err := e.clockwork(scope).Cancel(c); err != nil {
		return Result{Context: c, Progress: progressOf(c), Err: err}
	}
	res := Result{Context: c, Progress: clockwork.ProgressFinal}
	if err := e.save(ctx, c); err != nil {
		res.Err = err
	}
	return res
}

// drive clicks c until it is final or suspended, then saves it. Clicks
// stop early on an error or when the quota is exhausted.
func (e *Engine) drive(ctx context.Context, c *model.Context, d Decision) Result {
	scope := cache.Begin(e.cacheOpts...)
	defer scope.End()
	cw := e.clockwork(scope)

	if d != DecisionNone {
		if !clockwork.Suspended(c) {
			return Result{Context: c, Progress: progressOf(c), Err: newRuntimeError(ErrCodeNotSuspended, c.ID, "no approval pending")}
		}
		var err error
		if d == DecisionApprove {
			err = cw.Approve(c)
		} else {
			err = cw.Reject(c)
		}
		if err != nil {
			return Result{Context: c, Progress: progressOf(c), Err: err}
		}
	}

	var (
		progress = clockwork.ProgressRunning
		err      error
	)
	for progress == clockwork.ProgressRunning {
		if err = e.quota.Check(c); err != nil {
			break
		}
		if progress, err = cw.Advance(ctx, c); err != nil {
			break
		}
	}

	if serr := e.save(ctx, c); serr != nil {
		err = errors.Join(err, serr)
	}
	if c.Final() {
		e.logger.Info("context finished",
			"context", c.ID,
			"outcome", c.Outcome.Status,
			"clicks", c.Clicks)
	}
	return Result{Context: c, Progress: progressOf(c), Err: err}
}

// clockwork assembles the components for one unit of work around scope.
func (e *Engine) clockwork(scope *cache.Scope) *clockwork.Clockwork {
	r := cache.NewRepository(e.store, scope)

	session := constraint.NewSession()
	session.Observe(scope, e.resources)
	checker := constraint.New(r, session, constraint.WithLogger(e.logger))

	reconciler := reconcile.New(r, e.connector, e.resources, reconcile.WithLogger(e.logger))
	comp := discovery.New(r, e.connector, reconciler, discovery.WithLogger(e.logger))

	opts := []clockwork.Option{
		clockwork.WithLogger(e.logger),
		clockwork.WithMaxIterations(e.maxIterations),
	}
	if e.gate != nil {
		opts = append(opts, clockwork.WithGate(e.gate))
	}
	return clockwork.New(r, e.connector, checker, comp, e.resources, opts...)
}

// save persists c. It runs even when ctx is already cancelled so that an
// aborted click can be resumed.
func (e *Engine) save(ctx context.Context, c *model.Context) error {
	data, err := model.ToPortable(c)
	if err != nil {
		return fmt.Errorf("encode context %s: %w", c.ID, err)
	}
	rec := store.ContextRecord{
		ID:     c.ID,
		Phase:  string(c.Phase),
		Status: StoredStatus(c),
		Seq:    e.seq.Next(),
		Data:   data,
	}
	return e.store.SaveContext(context.WithoutCancel(ctx), rec)
}

// StoredStatus is the status column written for c.
func StoredStatus(c *model.Context) string {
	switch {
	case c.Final() && c.Outcome != nil:
		return string(c.Outcome.Status)
	case clockwork.Suspended(c):
		return StatusSuspended
	default:
		return StatusPending
	}
}

func progressOf(c *model.Context) clockwork.Progress {
	switch {
	case c.Final():
		return clockwork.ProgressFinal
	case clockwork.Suspended(c):
		return clockwork.ProgressSuspended
	default:
		return clockwork.ProgressRunning
	}
}

func progressLabel(res Result) string {
	if res.Context == nil {
		return "rejected"
	}
	return string(res.Progress)
}

func contextID(ev Event, res Result) string {
	if res.Context != nil {
		return res.Context.ID
	}
	return ev.ContextID
}
