// Package dedupe suppresses retried client messages. The gateway asks
// Seen(session, message_id) before running a turn; a duplicate within the
// TTL is acknowledged again but not run.
package dedupe
