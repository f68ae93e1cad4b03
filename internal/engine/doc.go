// Package engine runs change contexts through the clockwork.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Submit, resume and cancel requests are events. Engine.Run processes them
// one at a time in a single goroutine, so two requests never advance
// contexts concurrently and the store sees one writer.
//
// Unit of Work:
// Every event gets a fresh cache scope and constraint session. They are
// discarded when the event has been processed and are never shared between
// contexts.
//
// Persistence:
// After every event the context is written to the store in portable form.
// Suspended contexts and contexts aborted by a transient failure stay there
// until resumed or cancelled.
//
// Event Processing Flow:
//  1. Events enqueued to FIFO queue (submit, resume or cancel)
//  2. Engine.Run() dequeues events one at a time
//  3. processEvent() loads or creates the context
//  4. The clockwork is clicked until the context is final or suspended,
//     bounded by the per-context click quota
//  5. The context is saved with the next logical sequence number
//
// Process handles one event synchronously without the loop. The CLI uses
// it; long-running callers use Enqueue or Do together with Run.
package engine
