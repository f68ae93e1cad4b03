package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/tether/internal/clockwork"
	"github.com/roach88/tether/internal/compiler"
	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/testutil"
)

// Harness runs one scenario against a real engine.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	backend backend
	faulty  *connector.Faulty
	clock   *testutil.DeterministicClock
	logger  *slog.Logger

	// calls is the number of connector calls already traced.
	calls int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a deterministic
// logical clock and context ids, so two runs produce identical traces.
//
// Execution flow:
// 1. Compile the resource definitions
// 2. Create the store, connector and engine
// 3. Apply setup fixtures and faults
// 4. Execute steps, tracing connector calls and checking expect clauses
// 5. Evaluate assertions
//
// An error is returned when the scenario cannot be executed at all. Failed
// expectations and assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	resources, err := loadResources(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	be := newBackend(scenario.Connector, st)
	faulty := connector.NewFaulty(be)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	opts := []engine.EngineOption{
		engine.WithSequencer(testutil.NewDeterministicClock()),
		engine.WithLogger(logger),
	}
	if scenario.MaxClicks > 0 {
		opts = append(opts, engine.WithMaxClicks(scenario.MaxClicks))
	}
	if len(scenario.GatedResources) > 0 {
		opts = append(opts, engine.WithGate(clockwork.ResourceGate(scenario.GatedResources...)))
	}

	h := &Harness{
		store:   st,
		engine:  engine.New(st, faulty, resources, testutil.NewCountingGenerator(scenario.ContextPrefix), opts...),
		backend: be,
		faulty:  faulty,
		clock:   testutil.NewDeterministicClock(),
		logger:  logger,
	}

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Store:     st,
		Connector: be,
		Ctx:       ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// loadResources compiles the scenario's resource definitions.
func loadResources(s *Scenario) (*ir.ResourceSet, error) {
	var (
		loaded *compiler.LoadResult
		errs   []error
	)
	if s.Definitions != "" {
		loaded, errs = compiler.CompileSource(s.Name+".cue", s.Definitions)
	} else {
		loaded, errs = compiler.LoadResources(s.Resources, compiler.LoadModeCollectAll)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load resources: %w", errors.Join(errs...))
	}
	rs, err := loaded.ResourceSet()
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	return rs, nil
}

// executeSetup stores the fixtures and installs the initial faults.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	for i, u := range setup.Users {
		attrs, err := ir.ObjectFromMap(u.Attrs)
		if err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		if _, err := h.store.Add(ctx, &ir.Object{Type: ir.TypeUser, ID: u.ID, Attrs: attrs}, nil); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}
	for i, x := range setup.External {
		attrs, err := ir.ObjectFromMap(x.Attrs)
		if err != nil {
			return fmt.Errorf("external[%d]: %w", i, err)
		}
		if err := h.backend.put(ctx, x.Resource, x.ExternalID, attrs); err != nil {
			return fmt.Errorf("external[%d]: %w", i, err)
		}
	}
	for _, f := range setup.Faults {
		h.faulty.Inject(toFault(f))
	}
	h.logger.Info("setup completed",
		"users", len(setup.Users),
		"external", len(setup.External),
		"faults", len(setup.Faults))
	return nil
}

// executeStep traces and performs one step. Engine errors are part of the
// trace; only a broken scenario returns an error.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	ev := TraceEvent{Type: EventStep, Step: i}
	var engineEvent *engine.Event

	switch {
	case step.Submit != nil:
		delta, err := step.Submit.Delta()
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		ev.Action, ev.Op, ev.OID = "submit", step.Submit.Change, step.Submit.OID
		e := engine.Submit(engine.Change{Type: delta.Type, OID: step.Submit.OID, Delta: delta})
		engineEvent = &e

	case step.Resume != nil:
		ev.Action, ev.Op, ev.Context = "resume", step.Resume.Decision, step.Resume.Context
		e := engine.Resume(step.Resume.Context, engine.Decision(step.Resume.Decision))
		engineEvent = &e

	case step.Cancel != nil:
		ev.Action, ev.Context = "cancel", step.Cancel.Context
		e := engine.Cancel(step.Cancel.Context)
		engineEvent = &e

	case step.RemoveExternal != nil:
		ev.Action, ev.Resource, ev.ExternalID = "remove_external", step.RemoveExternal.Resource, step.RemoveExternal.ExternalID
		h.trace(result, ev)
		return h.backend.remove(ctx, step.RemoveExternal.Resource, step.RemoveExternal.ExternalID)

	case step.PutExternal != nil:
		ev.Action, ev.Resource, ev.ExternalID = "put_external", step.PutExternal.Resource, step.PutExternal.ExternalID
		h.trace(result, ev)
		attrs, err := ir.ObjectFromMap(step.PutExternal.Attrs)
		if err != nil {
			return fmt.Errorf("put_external: %w", err)
		}
		return h.backend.put(ctx, step.PutExternal.Resource, step.PutExternal.ExternalID, attrs)

	case step.Inject != nil:
		ev.Action, ev.Op, ev.Resource, ev.ExternalID = "inject", step.Inject.Op, step.Inject.Resource, step.Inject.ExternalID
		ev.Error = step.Inject.Error
		h.trace(result, ev)
		h.faulty.Inject(toFault(*step.Inject))
		return nil

	default:
		return fmt.Errorf("step has no action")
	}

	h.trace(result, ev)
	res, err := h.engine.Process(ctx, *engineEvent)
	h.traceCalls(result, i)

	out := TraceEvent{Type: EventResult, Step: i, Context: engineEvent.ContextID}
	if res.Context != nil {
		out.Context = res.Context.ID
		out.Phase = string(res.Context.Phase)
		out.Status = engine.StoredStatus(res.Context)
		out.Progress = string(res.Progress)
	}
	if err != nil {
		out.Error = err.Error()
	}
	h.trace(result, out)

	h.logger.Info("step completed",
		"step", i,
		"action", ev.Action,
		"context", out.Context,
		"status", out.Status)

	if step.Expect != nil {
		for _, msg := range checkExpect(i, step.Expect, out) {
			result.AddError(msg)
		}
	}
	return nil
}

// traceCalls appends the connector calls made since the last step.
func (h *Harness) traceCalls(result *Result, step int) {
	calls := h.faulty.Calls()
	for _, c := range calls[h.calls:] {
		h.trace(result, TraceEvent{
			Type:       EventConnector,
			Step:       step,
			Op:         string(c.Op),
			Resource:   c.Resource,
			ExternalID: c.ExternalID,
			Error:      c.Error,
		})
	}
	h.calls = len(calls)
}

// trace stamps ev with the next sequence number. The clock must advance
// exactly once per event.
func (h *Harness) trace(result *Result, ev TraceEvent) {
	ev.Seq = h.clock.Next()
	result.add(ev)
}

func checkExpect(step int, want *ExpectClause, got TraceEvent) []string {
	var errs []string
	check := func(field, want, got string) {
		if want != "" && want != got {
			errs = append(errs, fmt.Sprintf("steps[%d]: expected %s %q, got %q", step, field, want, got))
		}
	}
	check("progress", want.Progress, got.Progress)
	check("phase", want.Phase, got.Phase)
	check("status", want.Status, got.Status)
	if want.Error != "" && !strings.Contains(got.Error, want.Error) {
		errs = append(errs, fmt.Sprintf("steps[%d]: expected error containing %q, got %q", step, want.Error, got.Error))
	}
	return errs
}
