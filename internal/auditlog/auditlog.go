// Package auditlog implements an append-only hash chain of certificate
// lifecycle events (issue, deactivate, restore).
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records the hash of its
// predecessor, so rewriting any past event is detectable via Verify.
//
// Three implementations of the Log interface are provided:
//   - MemoryLog: in-process, for testing and development.
//   - PostgresLog: durable, for production use.
//   - SQLiteLog: durable, sharing the certificate store's SQLite file.
package auditlog
