// Package store persists the current token record.
//
// [Store] is the contract the session coordinator depends on: save, load, clear, with load failures
// reported as "no record" rather than errors. [KV] implements it over any byte-oriented [Backend]:
//
//   - [SQLiteBackend] writes to the kv table in the application database (default)
//   - [FileBackend] writes a JSON file guarded by a lock file, replaced atomically
//   - [MemoryBackend] keeps values in process, for tests and ephemeral sessions
//
// Values can be sealed at rest with a [Sealer] (AES-256-GCM, Argon2id key derivation).
//
// [EventLog] keeps a credential-free history of session transitions in the same database.
package store
