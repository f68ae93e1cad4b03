// Package harness runs scenario tests against the propagation engine.
//
// A scenario compiles resource definitions, seeds a world, drives the
// engine through submit, resume and cancel steps and then asserts on the
// trace and the final state.
//
// # Scenario Format
//
//	name: provision_account
//	description: "What this scenario validates"
//	resources: ../resources        # or inline `definitions: |`
//	connector: memory              # or sql
//	gated_resources: [ldap]
//	setup:
//	  users:
//	    - id: u0
//	      attrs: { name: existing }
//	  external:
//	    - resource: ldap
//	      external_id: X1
//	      attrs: { uid: taken }
//	  faults:
//	    - resource: mail
//	      op: add
//	      error: unreachable      # unreachable, not_found or rejected
//	      times: 1                # 0 fails forever
//	steps:
//	  - submit:
//	      change: add
//	      oid: u1
//	      attrs: { name: JDoe, assignments: [ldap/account/default] }
//	    expect: { progress: final, status: SUCCESS }
//	  - remove_external: { resource: ldap, external_id: R1 }
//	assertions:
//	  - type: trace_contains
//	    event: ldap.add
//	    match: { external_id: R1 }
//
// # Trace
//
// Every step contributes a step event, one connector event per operation
// the connector saw and, for engine steps, a result event. Assertions name
// events by label: the step action ("submit", "resume", "cancel",
// "remove_external", "put_external", "inject"), "<resource>.<op>" for
// connector calls and "result".
//
// # Assertion Types
//
//   - trace_contains: some event with the label matches the given fields
//   - trace_order: the first occurrences of the labels are in order
//   - trace_count: the label occurs exactly count times
//   - final_state: a row of a store table has the expected columns
//   - external: an object exists (or not) on a resource with the attrs
//   - links: a user has count linked projections
//
// # Deterministic Testing
//
// Each run uses an in-memory SQLite store, counting context ids and a
// deterministic logical clock, so the trace is identical across runs and
// can be compared to a golden file.
package harness
