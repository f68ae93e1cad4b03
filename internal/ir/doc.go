// Package ir provides the value and object model shared by every other
// package: sealed attribute values, typed objects, object deltas with a pure
// Apply, resource definitions, and canonical JSON for fingerprints.
//
// This package imports nothing internal. Key constraints:
//   - NO float values anywhere; numbers are int64
//   - Apply never mutates its inputs
//   - All JSON tags use snake_case
//   - Canonical JSON (RFC 8785) is the only input to content hashes
package ir
