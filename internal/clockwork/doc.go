// Package clockwork advances change contexts through their phases.
//
// Each call to Advance is one click and performs exactly one transition:
//
//	INITIAL    -> FOCUS       validate the change, compute the new focus
//	FOCUS      -> PROJECTION  decide every projection, derive deltas
//	PROJECTION -> EXECUTION   apply the focus, then projections wave by wave
//	EXECUTION  -> FINAL       aggregate the outcome
//
// A configured Gate may suspend a context between PROJECTION and EXECUTION.
// The caller persists the suspended context, records an approval decision
// with Approve or Reject, and resumes it later, or cancels it.
//
// The clockwork holds no locks. A context must be advanced by one goroutine
// at a time, and the repository, checker and compensator passed to New
// belong to a single unit of work.
//
// Errors while computing the focus or the projections abort the click. An
// unreachable error leaves the context untouched so the click can be retried;
// any other error finishes the context with a fatal outcome. Errors while
// executing are isolated per projection and folded into the outcome.
package clockwork
