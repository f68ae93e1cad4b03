package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/clockwork"
	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/model"
	"github.com/roach88/tether/internal/repo"
	"github.com/roach88/tether/internal/store"
)

const ldapKey = "ldap/account/default"

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testResources(t *testing.T) *ir.ResourceSet {
	t.Helper()
	rs, err := ir.NewResourceSet(ir.ResourceDefinition{
		Resource: "ldap", Kind: "account", Intent: "default",
		ObjectClass: ir.ObjectClassDef{Name: "inetOrgPerson", PrimaryIdentifiers: []string{"uid"}},
		Required:    true,
		Mappings:    []ir.Mapping{{Target: "uid", Source: "focus.name", Transform: ir.TransformLower}},
	})
	require.NoError(t, err)
	return rs
}

type testEngine struct {
	*Engine
	store *store.Store
	dir   *connector.Memory
}

func newTestEngine(t *testing.T, opts ...EngineOption) *testEngine {
	t.Helper()
	s := setupTestStore(t)
	dir := connector.NewMemory()
	ids := NewFixedGenerator("ctx-1", "ctx-2", "ctx-3")
	return &testEngine{Engine: New(s, dir, testResources(t), ids, opts...), store: s, dir: dir}
}

func addUser(id, name string, assignments ...string) Event {
	attrs := ir.IRObject{"name": ir.IRString(name)}
	if len(assignments) > 0 {
		arr := ir.IRArray{}
		for _, a := range assignments {
			arr = append(arr, ir.IRString(a))
		}
		attrs["assignments"] = arr
	}
	return Submit(Change{Delta: ir.NewAddDelta(&ir.Object{Type: ir.TypeUser, ID: id, Attrs: attrs})})
}

func stored(t *testing.T, s *store.Store, id string) store.ContextRecord {
	t.Helper()
	rec, err := s.LoadContext(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestEngine_ProcessSubmit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Process(ctx, addUser("u1", "JDoe", ldapKey))
	require.NoError(t, err)
	require.NotNil(t, res.Context)
	assert.Equal(t, clockwork.ProgressFinal, res.Progress)
	assert.Equal(t, "ctx-1", res.Context.ID)
	assert.Equal(t, model.OutcomeSuccess, res.Context.Outcome.Status)

	rec := stored(t, e.store, "ctx-1")
	assert.Equal(t, string(model.PhaseFinal), rec.Phase)
	assert.Equal(t, string(model.OutcomeSuccess), rec.Status)

	loaded, err := e.Load(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, res.Context, loaded)

	user, err := e.store.Get(ctx, ir.TypeUser, "u1", nil)
	require.NoError(t, err)
	assert.Len(t, ir.Values(user.Attrs[ir.AttrLinks]), 1)
	assert.Equal(t, []string{"R1"}, e.dir.IDs("ldap"))
}

func TestEngine_ProcessSubmit_InvalidChange(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Process(context.Background(), Submit(Change{}))
	assert.True(t, HasCode(err, ErrCodeInvalidChange))
	assert.Nil(t, res.Context)
}

func TestEngine_ProcessSubmit_FailedContextIsStored(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Process(context.Background(), addUser("u1", "jdoe", "hr/account/default"))
	require.Error(t, err)
	assert.True(t, clockwork.IsKind(err, clockwork.KindSchemaInvalid))
	assert.Equal(t, clockwork.ProgressFinal, res.Progress)

	rec := stored(t, e.store, "ctx-1")
	assert.Equal(t, string(model.OutcomeFatal), rec.Status)
}

func TestEngine_SuspendAndApprove(t *testing.T) {
	e := newTestEngine(t, WithGate(clockwork.ResourceGate("ldap")))
	ctx := context.Background()

	res, err := e.Process(ctx, addUser("u1", "jdoe", ldapKey))
	require.NoError(t, err)
	assert.Equal(t, clockwork.ProgressSuspended, res.Progress)
	assert.Empty(t, e.dir.IDs("ldap"))

	waiting, err := e.List(ctx, model.PhaseProjection)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, StatusSuspended, waiting[0].Status)

	// Resuming without a decision keeps it suspended.
	res, err = e.Process(ctx, Resume("ctx-1", DecisionNone))
	require.NoError(t, err)
	assert.Equal(t, clockwork.ProgressSuspended, res.Progress)

	res, err = e.Process(ctx, Resume("ctx-1", DecisionApprove))
	require.NoError(t, err)
	assert.Equal(t, clockwork.ProgressFinal, res.Progress)
	assert.Equal(t, model.OutcomeSuccess, res.Context.Outcome.Status)
	assert.Equal(t, []string{"R1"}, e.dir.IDs("ldap"))
	assert.Equal(t, string(model.OutcomeSuccess), stored(t, e.store, "ctx-1").Status)
}

func TestEngine_SuspendAndReject(t *testing.T) {
	e := newTestEngine(t, WithGate(clockwork.ResourceGate("ldap")))
	ctx := context.Background()

	_, err := e.Process(ctx, addUser("u1", "jdoe", ldapKey))
	require.NoError(t, err)

	res, err := e.Process(ctx, Resume("ctx-1", DecisionReject))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCancelled, res.Context.Outcome.Status)
	assert.Empty(t, e.dir.IDs("ldap"))

	_, err = e.store.Get(ctx, ir.TypeUser, "u1", nil)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestEngine_Cancel(t *testing.T) {
	e := newTestEngine(t, WithGate(clockwork.ResourceGate("ldap")))
	ctx := context.Background()

	_, err := e.Process(ctx, addUser("u1", "jdoe", ldapKey))
	require.NoError(t, err)

	res, err := e.Process(ctx, Cancel("ctx-1"))
	require.NoError(t, err)
	assert.Equal(t, clockwork.ProgressFinal, res.Progress)
	assert.Equal(t, model.OutcomeCancelled, res.Context.Outcome.Status)
	assert.Equal(t, string(model.OutcomeCancelled), stored(t, e.store, "ctx-1").Status)

	_, err = e.Process(ctx, Cancel("ctx-1"))
	assert.True(t, HasCode(err, ErrCodeNotSuspended))

	// Resuming a final context changes nothing.
	before := stored(t, e.store, "ctx-1")
	res, err = e.Process(ctx, Resume("ctx-1", DecisionNone))
	require.NoError(t, err)
	assert.Equal(t, clockwork.ProgressFinal, res.Progress)
	assert.Equal(t, before, stored(t, e.store, "ctx-1"))
}

func TestEngine_ResumeUnknown(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Process(context.Background(), Resume("missing", DecisionApprove))
	assert.True(t, HasCode(err, ErrCodeUnknownContext))
	assert.ErrorIs(t, err, store.ErrContextNotFound)
}

func TestEngine_RetryAfterTransientFailure(t *testing.T) {
	e := newTestEngine(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Process(cancelled, addUser("u1", "jdoe", ldapKey))
	require.Error(t, err)
	assert.True(t, clockwork.IsKind(err, clockwork.KindUnreachable))
	assert.Equal(t, clockwork.ProgressRunning, res.Progress)

	rec := stored(t, e.store, "ctx-1")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, string(model.PhaseInitial), rec.Phase)

	ctx := context.Background()
	_, err = e.Process(ctx, Resume("ctx-1", DecisionApprove))
	assert.True(t, HasCode(err, ErrCodeNotSuspended))

	res, err = e.Process(ctx, Resume("ctx-1", DecisionNone))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, res.Context.Outcome.Status)
}

func TestEngine_ClickQuota(t *testing.T) {
	e := newTestEngine(t, WithMaxClicks(2))

	res, err := e.Process(context.Background(), addUser("u1", "jdoe", ldapKey))
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, 2, res.Context.Clicks)
	assert.Equal(t, model.PhaseProjection, res.Context.Phase)
	assert.Equal(t, StatusPending, stored(t, e.store, "ctx-1").Status)
	assert.Empty(t, e.dir.IDs("ldap"))
}

func TestEngine_SequenceContinues(t *testing.T) {
	e := newTestEngine(t, WithSequencer(NewClockAt(41)))
	ctx := context.Background()

	_, err := e.Process(ctx, addUser("u1", "a"))
	require.NoError(t, err)
	_, err = e.Process(ctx, addUser("u2", "b"))
	require.NoError(t, err)

	records, err := e.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(42), records[0].Seq)
	assert.Equal(t, "ctx-1", records[0].ID)
	assert.Equal(t, int64(43), records[1].Seq)

	top, err := e.store.MaxContextSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(43), top)
}

func TestEngine_SQLConnector(t *testing.T) {
	s := setupTestStore(t)
	conn := connector.NewSQL(s)
	e := New(s, conn, testResources(t), NewFixedGenerator("ctx-1"))
	ctx := context.Background()

	res, err := e.Process(ctx, addUser("u1", "JDoe", ldapKey))
	require.NoError(t, err)
	require.Equal(t, model.OutcomeSuccess, res.Context.Outcome.Status)

	p := res.Context.Projection(ldapKey)
	require.NotNil(t, p)
	require.NotEmpty(t, p.ExternalID)
	obj, err := conn.Get(ctx, "ldap", p.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", obj.String("uid"))
}

func TestEngine_RunLoop(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, id := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := e.Do(ctx, addUser(id, id))
			assert.NoError(t, err)
			results[i] = res
		}(i, id)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res.Context)
		assert.Equal(t, model.OutcomeSuccess, res.Context.Outcome.Status)
	}
	assert.NotEqual(t, results[0].Context.ID, results[1].Context.ID)

	e.Stop()
	require.NoError(t, <-done)

	_, err := e.Do(ctx, Cancel("ctx-1"))
	assert.True(t, HasCode(err, ErrCodeStopped))
	assert.False(t, e.Enqueue(Cancel("ctx-1")))
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_EventMetrics(t *testing.T) {
	e := newTestEngine(t)
	final := events.WithLabelValues("submit", "final")
	rejected := events.WithLabelValues("submit", "rejected")
	beforeFinal := testutil.ToFloat64(final)
	beforeRejected := testutil.ToFloat64(rejected)

	_, err := e.Process(context.Background(), addUser("u1", "jdoe"))
	require.NoError(t, err)
	_, _ = e.Process(context.Background(), Submit(Change{}))

	assert.Equal(t, beforeFinal+1, testutil.ToFloat64(final))
	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(rejected))
}
