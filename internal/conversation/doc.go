// Package conversation runs user turns against the agent runner.
//
// # Registry
//
// Registry owns every piece of per-session mutable state, created lazily:
//
//   - the turn lock (one in-flight turn per session)
//   - the agent handle that answers the next turn (changes on handoff)
//   - the transcript handle
//   - the speech pipeline (speech.Voice)
//
// Archiving a session evicts its entry.
//
// # Orchestrator
//
// HandleTurn moves a session Idle -> Running -> Idle:
//
//  1. Acquire the session's turn lock
//  2. Run the agent with the transcript as history, streaming
//  3. Publish each delta (assistant_text_delta) and feed it to speech
//  4. Adopt the runner's next agent, if any
//  5. Final text = runner output, else the joined deltas, else a placeholder
//  6. Append [user, tool/handoff records, assistant] in one batch
//  7. Publish assistant_message, then finalize speech (tts_done)
//
// A runner failure publishes an error event, resets speech, appends nothing,
// and releases the lock.
package conversation
