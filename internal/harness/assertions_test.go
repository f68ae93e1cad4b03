package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/connector"
	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventStep, Step: 0, Action: "submit", Op: "add", OID: "u1", Seq: 1},
		{Type: EventConnector, Step: 0, Op: "add", Resource: "ldap", ExternalID: "R1", Seq: 2},
		{Type: EventConnector, Step: 0, Op: "add", Resource: "mail", Error: "add on mail: resource unreachable", Seq: 3},
		{Type: EventResult, Step: 0, Context: "ctx-1", Phase: "FINAL", Status: "PARTIAL", Progress: "final", Seq: 4},
		{Type: EventStep, Step: 1, Action: "submit", Op: "modify", OID: "u1", Seq: 5},
		{Type: EventConnector, Step: 1, Op: "add", Resource: "mail", ExternalID: "R1", Seq: 6},
		{Type: EventResult, Step: 1, Context: "ctx-2", Phase: "FINAL", Status: "SUCCESS", Progress: "final", Seq: 7},
	}
}

func TestTraceEvent_Label(t *testing.T) {
	trace := sampleTrace()
	assert.Equal(t, "submit", trace[0].Label())
	assert.Equal(t, "ldap.add", trace[1].Label())
	assert.Equal(t, "result", trace[3].Label())
}

func TestTraceEvent_FieldsOmitEmpty(t *testing.T) {
	fields := sampleTrace()[1].Fields()
	assert.Equal(t, map[string]any{
		"type":        EventConnector,
		"step":        0,
		"seq":         int64(2),
		"op":          "add",
		"resource":    "ldap",
		"external_id": "R1",
	}, fields)
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name  string
		event string
		match map[string]any
		ok    bool
	}{
		{"label only", "ldap.add", nil, true},
		{"matching fields", "mail.add", map[string]any{"step": 1, "external_id": "R1"}, true},
		{"error field", "mail.add", map[string]any{"error": "add on mail: resource unreachable"}, true},
		{"result status", "result", map[string]any{"context": "ctx-2", "status": "SUCCESS"}, true},
		{"wrong value", "ldap.add", map[string]any{"external_id": "R2"}, false},
		{"missing field", "ldap.add", map[string]any{"error": "x"}, false},
		{"unknown label", "crm.add", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceContains(trace, Assertion{Type: AssertTraceContains, Event: tt.event, Match: tt.match})
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var aerr *AssertionError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, "not found in trace", aerr.Actual)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Events: []string{"submit", "ldap.add", "mail.add", "result"}}))

	err := assertTraceOrder(trace, Assertion{Events: []string{"mail.add", "ldap.add"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail.add (pos 3) should be before ldap.add (pos 2)")

	err = assertTraceOrder(trace, Assertion{Events: []string{"submit", "ldap.delete"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: ldap.delete")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "mail.add", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "ldap.delete", Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: "result", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 1 occurrences of result")
	assert.Contains(t, err.Error(), "Actual: 2 occurrences")
	assert.Contains(t, err.Error(), `[3] step 0 mail.add error="add on mail: resource unreachable"`)
}

func TestAssertExternal(t *testing.T) {
	ctx := context.Background()
	mem := connector.NewMemory()
	mem.Put("ldap", "R1", ir.IRObject{"uid": ir.IRString("jdoe"), "cn": ir.IRString("Jane")})
	no := false

	assert.NoError(t, assertExternal(ctx, mem, Assertion{Resource: "ldap", ExternalID: "R1"}))
	assert.NoError(t, assertExternal(ctx, mem, Assertion{Resource: "ldap", ExternalID: "R1", Attrs: map[string]any{"uid": "jdoe"}}))
	assert.NoError(t, assertExternal(ctx, mem, Assertion{Resource: "ldap", ExternalID: "R2", Exists: &no}))

	err := assertExternal(ctx, mem, Assertion{Resource: "ldap", ExternalID: "R1", Attrs: map[string]any{"uid": "jsmith"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `ldap/R1 attribute "uid" = jsmith`)

	err = assertExternal(ctx, mem, Assertion{Resource: "ldap", ExternalID: "R1", Exists: &no})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ldap/R1 to be absent")

	err = assertExternal(ctx, mem, Assertion{Resource: "mail", ExternalID: "R1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail/R1 to exist")
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAssertLinks(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	_, err := st.Add(ctx, &ir.Object{Type: ir.TypeUser, ID: "u1", Attrs: ir.IRObject{
		"name":       ir.IRString("jdoe"),
		ir.AttrLinks: ir.IRArray{ir.IRString("s1"), ir.IRString("s2")},
	}}, nil)
	require.NoError(t, err)

	assert.NoError(t, assertLinks(ctx, st, Assertion{OID: "u1", Count: 2}))
	assert.NoError(t, assertLinks(ctx, st, Assertion{OID: "missing", Count: 0}))

	err = assertLinks(ctx, st, Assertion{OID: "u1", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u1 to have 1 links")
}

func TestAssertFinalState(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	require.NoError(t, st.PutExternal(ctx, "ldap", "R1", ir.IRObject{"uid": ir.IRString("jdoe")}))
	require.NoError(t, st.PutExternal(ctx, "ldap", "R2", ir.IRObject{"uid": ir.IRString("asmith")}))

	assert.NoError(t, assertFinalState(ctx, st, Assertion{
		Table:  "external_objects",
		Where:  map[string]any{"resource": "ldap", "id": "R1"},
		Expect: map[string]any{"resource": "ldap"},
	}))

	tests := []struct {
		name string
		a    Assertion
		want string
	}{
		{
			name: "no row",
			a:    Assertion{Table: "external_objects", Where: map[string]any{"id": "R9"}, Expect: map[string]any{"id": "R9"}},
			want: "row not found",
		},
		{
			name: "ambiguous",
			a:    Assertion{Table: "external_objects", Where: map[string]any{"resource": "ldap"}, Expect: map[string]any{"resource": "ldap"}},
			want: "multiple rows matched",
		},
		{
			name: "wrong value",
			a:    Assertion{Table: "external_objects", Where: map[string]any{"id": "R1"}, Expect: map[string]any{"resource": "mail"}},
			want: `field "resource" = mail`,
		},
		{
			name: "unknown column",
			a:    Assertion{Table: "external_objects", Where: map[string]any{"id": "R1"}, Expect: map[string]any{"owner": "x"}},
			want: `field "owner" to exist`,
		},
		{
			name: "bad table name",
			a:    Assertion{Table: "objects; DROP TABLE objects", Expect: map[string]any{"id": "x"}},
			want: "invalid table name",
		},
		{
			name: "bad column name",
			a:    Assertion{Table: "objects", Where: map[string]any{"id = 1 OR 1": 1}, Expect: map[string]any{"id": "x"}},
			want: "invalid column name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.a)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("FINAL", []byte("FINAL")))
	assert.True(t, stateValuesEqual(1, int64(1)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(ir.IRString("a"), "a"))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual("a", nil))
	assert.False(t, stateValuesEqual(2, int64(1)))
}

func TestEvaluateAssertions_RequiresContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertLinks, OID: "u1"},
		{Type: AssertExternal, Resource: "ldap", ExternalID: "R1"},
		{Type: AssertTraceCount, Event: "ldap.add"},
	}, nil)
	assert.Equal(t, []string{
		"assertion[0]: links requires database context",
		"assertion[1]: external requires a connector",
	}, errs)
}
