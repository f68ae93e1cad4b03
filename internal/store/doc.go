// Package store provides the SQLite-backed authoritative store.
//
// The store holds three kinds of records:
//   - Objects: focal entities, shadows and tasks, one row per (type, id) with
//     attributes as canonical JSON and a version counter
//   - Contexts: suspended or finished change contexts in portable form
//   - External objects: the simulated directory used by the SQL connector
//
// # Critical Patterns
//
// Deterministic reads: every multi-row query ends in ORDER BY id ASC COLLATE
// BINARY, so identical store state yields identical results.
//
// Canonical storage: attributes are serialized with ir.MarshalCanonical, so
// stored bytes are stable across writers.
//
// Versioning: Add stores version 1 and every Modify increments the version
// inside the same transaction that rewrites the attributes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
