package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFile(t *testing.T, path string) *Result {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	return result
}

func labels(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		out[i] = ev.Label()
	}
	return out
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		file   string
		labels []string
	}{
		{
			file:   "provision.yaml",
			labels: []string{"submit", "ldap.add", "mail.add", "mail.modify", "result"},
		},
		{
			file:   "approval.yaml",
			labels: []string{"submit", "result", "resume", "ldap.add", "result"},
		},
		{
			file:   "partial_failure.yaml",
			labels: []string{"submit", "ldap.add", "mail.add", "result"},
		},
		{
			file: "vanished_account.yaml",
			labels: []string{
				"submit", "ldap.add", "result",
				"remove_external",
				"submit", "ldap.modify", "ldap.add", "ldap.modify", "result",
			},
		},
		{
			file:   "uniqueness_conflict.yaml",
			labels: []string{"submit", "ldap.add", "result", "submit", "result"},
		},
		{
			file: "cancel.yaml",
			labels: []string{
				"submit", "result", "cancel", "result", "cancel", "result",
				"submit", "result", "resume", "result",
			},
		},
		{
			file: "delete_focus.yaml",
			labels: []string{
				"submit", "ldap.add", "mail.add", "mail.modify", "result",
				"submit", "mail.delete", "ldap.delete", "result",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			result := runFile(t, "testdata/scenarios/"+tt.file)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.Equal(t, tt.labels, labels(result.Trace))
		})
	}
}

func TestRun_SequenceIsMonotonic(t *testing.T) {
	result := runFile(t, "testdata/scenarios/vanished_account.yaml")
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_Deterministic(t *testing.T) {
	first := runFile(t, "testdata/scenarios/provision.yaml")
	second := runFile(t, "testdata/scenarios/provision.yaml")
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_ResultEvent(t *testing.T) {
	result := runFile(t, "testdata/scenarios/partial_failure.yaml")

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, TraceEvent{
		Type:     EventResult,
		Context:  "ctx-1",
		Phase:    "FINAL",
		Status:   "PARTIAL",
		Progress: "final",
		Seq:      4,
	}, last)

	failed := result.Trace[2]
	assert.Equal(t, "mail.add", failed.Label())
	assert.Empty(t, failed.ExternalID)
	assert.Equal(t, "add on mail: resource unreachable", failed.Error)
}

func TestRun_ExpectMismatch(t *testing.T) {
	data := `
name: wrong_expectation
description: an expect clause that does not hold fails the scenario
definitions: |
  resource: ldap: {
  	objectClass: "inetOrgPerson"
  	mappings: [{target: "uid", source: "focus.name"}]
  }
steps:
  - submit:
      change: add
      oid: u1
      attrs: {name: a, assignments: [ldap/account/default]}
    expect:
      status: FATAL
      error: boom
assertions:
  - {type: trace_count, event: ldap.add, count: 1}
`
	s, err := ParseScenario([]byte(data), ".")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, `steps[0]: expected status "FATAL", got "SUCCESS"`, result.Errors[0])
	assert.Equal(t, `steps[0]: expected error containing "boom", got ""`, result.Errors[1])
}

func TestRun_FailedAssertion(t *testing.T) {
	data := `
name: failed_assertion
description: a failing assertion is reported with the trace
definitions: |
  resource: ldap: {
  	objectClass: "inetOrgPerson"
  	mappings: [{target: "uid", source: "focus.name"}]
  }
steps:
  - submit:
      change: add
      oid: u1
      attrs: {name: a, assignments: [ldap/account/default]}
assertions:
  - {type: trace_count, event: ldap.add, count: 2}
`
	s, err := ParseScenario([]byte(data), ".")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "2 occurrences of ldap.add")
	assert.Contains(t, result.Errors[0], "step 0 ldap.add R1")
}

func TestRun_SetupFixtures(t *testing.T) {
	for _, backend := range []string{ConnectorMemory, ConnectorSQL} {
		t.Run(backend, func(t *testing.T) {
			data := `
name: fixtures
description: setup seeds users and objects the engine does not manage
connector: ` + backend + `
definitions: |
  resource: ldap: {
  	objectClass: "inetOrgPerson"
  	identifiers: primary: ["uid"]
  	mappings: [{target: "uid", source: "focus.name"}]
  }
setup:
  users:
    - id: u0
      attrs: {name: root}
  external:
    - resource: ldap
      external_id: X1
      attrs: {uid: taken}
steps:
  - put_external:
      resource: ldap
      external_id: X2
      attrs: {uid: other}
  - submit:
      change: add
      oid: u1
      attrs: {name: taken, assignments: [ldap/account/default]}
    expect:
      progress: final
      status: SUCCESS
assertions:
  - {type: trace_count, event: ldap.add, count: 1}
  - {type: external, resource: ldap, external_id: R1, attrs: {uid: taken}}
  - {type: external, resource: ldap, external_id: X1, attrs: {uid: taken}}
  - {type: external, resource: ldap, external_id: X2, attrs: {uid: other}}
  - {type: final_state, table: objects, where: {type: user, id: u0}, expect: {version: 1}}
`
			s, err := ParseScenario([]byte(data), ".")
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_InjectStep(t *testing.T) {
	data := `
name: inject
description: a fault injected between steps affects later steps only
definitions: |
  resource: ldap: {
  	objectClass: "inetOrgPerson"
  	required: true
  	mappings: [{target: "uid", source: "focus.name"}]
  }
steps:
  - submit:
      change: add
      oid: u1
      attrs: {name: a, assignments: [ldap/account/default]}
    expect: {status: SUCCESS}
  - inject: {resource: ldap, op: add, error: rejected, times: 1}
  - submit:
      change: add
      oid: u2
      attrs: {name: b, assignments: [ldap/account/default]}
    expect: {status: FATAL}
assertions:
  - {type: trace_count, event: ldap.add, count: 2}
  - {type: trace_contains, event: ldap.add, match: {step: 2, error: "add on ldap: operation rejected by resource"}}
  - {type: links, oid: u1, count: 1}
  - {type: links, oid: u2, count: 0}
`
	s, err := ParseScenario([]byte(data), ".")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_BrokenDefinitions(t *testing.T) {
	s := &Scenario{
		Name:        "broken",
		Description: "definitions that do not compile",
		Definitions: `resource: ldap: {mappings: []}`,
		Steps:       []Step{{Submit: &SubmitStep{Change: "add", OID: "u1"}}},
		Assertions:  []Assertion{{Type: AssertTraceCount, Event: "ldap.add"}},
	}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load resources")
}
