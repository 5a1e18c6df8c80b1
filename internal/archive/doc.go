// Package archive removes finished sessions from the live store.
//
// Archive(id) runs these steps and stops at the first hard failure:
//
//  1. Reject ids that are not decimal digits, then unknown ids
//  2. Wait for the session's running turn and hold off new ones until done
//  3. Render the last 200 chat records as "role: text" lines
//  4. If there are any, summarize them and save the digest (best-effort)
//  5. Optionally write a zstd copy of the transcript to the archive dir
//  6. Delete the transcript, retrying while the platform reports it busy
//  7. Rebuild the index, moving the active pointer if it was this session
//
// Rollover(id) is Archive followed by creating a new active session.
package archive
