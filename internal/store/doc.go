// Package store provides flat-file persistence for murmur-gateway sessions.
//
// # Layout
//
// Every session is one JSON Lines transcript in the sessions directory:
//
//	sessions/
//	  1718000000000.jsonl   one LogRecord per line, append-only
//	  1718000123456.jsonl
//	  index.json            cached session list + active pointer
//	summaries/
//	  1717000000000.md      digest written when a session is archived
//
// The transcript directory is the source of truth. index.json is a cache that
// SessionIndex.Rebuild can always re-derive from the *.jsonl files.
//
// # Transcript
//
// Transcript supports three operations:
//
//   - Append(ctx, records): one write + fsync; a failed write is truncated back
//   - Read(ctx, limit): last N parseable records, oldest first; bad lines skipped
//   - Clear(): empty temp file renamed over the transcript
//
// There is no way to remove a single record. Whole sessions are removed by
// the archive package.
//
// # Session Index
//
// SessionIndex owns session ids (Unix milliseconds as decimal strings):
//
//   - Rebuild(): rescan, keep the active id if it still exists, persist
//   - Load(): read index.json, rebuilding on any invalid shape
//   - SetActive(id): ErrInvalidSessionID / ErrSessionNotFound, else persist
//   - Create(): touch <now-ms>.jsonl with O_EXCL and make it active
//   - Ensure(id): requested, else active, else a new session
//
// All index writes go through a uniquely named temp file and rename.
package store
