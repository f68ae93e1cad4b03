package clockwork

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/constraint"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
)

// DefaultMaxIterations bounds the projection fixed point.
const DefaultMaxIterations = 16

// Progress is the result of one click.
type Progress string

const (
	// ProgressRunning: more clicks are needed.
	ProgressRunning Progress = "running"
	// ProgressSuspended: waiting for an approval decision.
	ProgressSuspended Progress = "suspended"
	// ProgressFinal: the context is terminal.
	ProgressFinal Progress = "final"
)

// Clockwork is the phase state machine.
type Clockwork struct {
	repo        repo.Repository
	connector   connector.Connector
	checker     *constraint.Checker
	compensator *discovery.Compensator
	resources   *ir.ResourceSet

	gate          Gate
	maxIterations int
	logger        *slog.Logger
}

// Option configures a Clockwork.
type Option func(*Clockwork)

// WithGate installs an approval gate.
func WithGate(g Gate) Option {
	return func(cw *Clockwork) {
		cw.gate = g
	}
}

// WithMaxIterations bounds the projection fixed point.
//
// Default: 16 (DefaultMaxIterations)
func WithMaxIterations(n int) Option {
	return func(cw *Clockwork) {
		cw.maxIterations = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cw *Clockwork) {
		cw.logger = l
	}
}

// New creates a clockwork for one unit of work.
func New(
	r repo.Repository,
	conn connector.Connector,
	checker *constraint.Checker,
	compensator *discovery.Compensator,
	resources *ir.ResourceSet,
	opts ...Option,
) *Clockwork {
	cw := &Clockwork{
		repo:          r,
		connector:     conn,
		checker:       checker,
		compensator:   compensator,
		resources:     resources,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(cw)
	}
	if cw.maxIterations < 1 {
		cw.maxIterations = 1
	}
	return cw
}

// Advance performs one click.
//
// On FINAL it does nothing and returns ProgressFinal. A returned error means
// the click was aborted: the context is either unchanged (KindUnreachable)
// or finished with a fatal outcome.
func (cw *Clockwork) Advance(ctx context.Context, c *model.Context) (Progress, error) {
	if c.Final() {
		return ProgressFinal, nil
	}
	if err := ctx.Err(); err != nil {
		return ProgressRunning, newError(KindUnreachable, c.Phase, err, "click not started")
	}

	from := c.Phase
	c.Clicks++
	clicks.WithLabelValues(string(from)).Inc()

	var (
		progress = ProgressRunning
		err      error
	)
	switch from {
	case model.PhaseInitial:
		err = cw.computeFocus(ctx, c)
	case model.PhaseFocus:
		err = cw.computeProjections(ctx, c)
	case model.PhaseProjection:
		progress = cw.gateAndExecute(ctx, c)
	case model.PhaseExecution:
		cw.aggregate(c)
		progress = ProgressFinal
	default:
		err = newError(KindFatal, from, nil, "unknown phase %q", from)
	}

	if err != nil {
		if Classify(err) == KindUnreachable {
			cw.logger.Warn("click aborted, retry possible",
				"context", c.ID,
				"phase", from,
				"error", err)
			return ProgressRunning, err
		}
		cw.fail(c, from, err)
		return ProgressFinal, err
	}

	cw.logger.Debug("click",
		"context", c.ID,
		"from", from,
		"to", c.Phase,
		"progress", progress)
	return progress, nil
}

// Run clicks until the context is final or suspended.
func (cw *Clockwork) Run(ctx context.Context, c *model.Context) (Progress, error) {
	for {
		progress, err := cw.Advance(ctx, c)
		if err != nil || progress != ProgressRunning {
			return progress, err
		}
	}
}

// Suspended reports whether c is waiting for an approval decision.
func Suspended(c *model.Context) bool {
	return c.Phase == model.PhaseProjection && c.Approval == model.ApprovalPending
}

// Approve records approval on a suspended context. The next click executes.
func (cw *Clockwork) Approve(c *model.Context) error {
	if !Suspended(c) {
		return fmt.Errorf("approve %s: context is not suspended", c.ID)
	}
	c.Approval = model.ApprovalApproved
	return nil
}

// Reject records a rejection on a suspended context. The next click
// finishes it without executing.
func (cw *Clockwork) Reject(c *model.Context) error {
	if !Suspended(c) {
		return fmt.Errorf("reject %s: context is not suspended", c.ID)
	}
	c.Approval = model.ApprovalRejected
	return nil
}

// Cancel moves a suspended context directly to FINAL with a cancelled
// outcome. EXECUTION is skipped.
func (cw *Clockwork) Cancel(c *model.Context) error {
	if !Suspended(c) {
		return fmt.Errorf("cancel %s: context is not suspended", c.ID)
	}
	cw.finish(c, model.OutcomeCancelled, []string{"cancelled while awaiting approval"})
	return nil
}

func (cw *Clockwork) gateAndExecute(ctx context.Context, c *model.Context) Progress {
	switch c.Approval {
	case model.ApprovalRejected:
		cw.finish(c, model.OutcomeCancelled, []string{"approval rejected"})
		return ProgressFinal
	case model.ApprovalApproved:
	default:
		if cw.gate != nil && cw.gate.RequiresApproval(c) {
			c.Approval = model.ApprovalPending
			cw.logger.Info("context suspended for approval", "context", c.ID)
			return ProgressSuspended
		}
	}
	cw.execute(ctx, c)
	return ProgressRunning
}

// aggregate folds every result into the outcome. A failed focus write or a
// failed required projection is fatal. Any other failure is partial.
func (cw *Clockwork) aggregate(c *model.Context) {
	status := model.OutcomeSuccess
	messages := []string{}

	for _, rec := range c.Focus.Executed {
		if rec.Result.Status.Failed() {
			status = model.OutcomeFatal
			messages = append(messages, fmt.Sprintf("focus %s: %s", c.Focus.OID, rec.Result.Message))
		}
	}
	for _, p := range c.Projections {
		if !p.Result.Status.Failed() {
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: %s", p.Key(), p.Result.Message))
		if p.Required {
			status = model.OutcomeFatal
		} else if status == model.OutcomeSuccess {
			status = model.OutcomePartial
		}
	}
	cw.finish(c, status, messages)
}

// fail finishes c after an aborted computation click.
func (cw *Clockwork) fail(c *model.Context, phase model.Phase, err error) {
	cw.logger.Error("context failed",
		"context", c.ID,
		"phase", phase,
		"kind", Classify(err),
		"error", err)
	cw.finish(c, model.OutcomeFatal, []string{err.Error()})
}

func (cw *Clockwork) finish(c *model.Context, status model.OutcomeStatus, messages []string) {
	for _, p := range c.Projections {
		if p.Pending() && p.Result.Status == "" {
			p.Result = model.OperationResult{Status: model.StatusSkipped, Message: string(status)}
		}
	}
	c.ClearPending()
	c.Phase = model.PhaseFinal
	c.Outcome = &model.Outcome{Status: status, Messages: messages}
	outcomes.WithLabelValues(string(status)).Inc()

	cw.logger.Info("context final",
		"context", c.ID,
		"status", status,
		"clicks", c.Clicks)
}
