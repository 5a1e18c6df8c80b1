// Package speech turns streaming assistant text into audio events.
//
// # Segmenter
//
// Segmenter cuts text deltas into sentence-sized segments. A run ending in a
// boundary (newline, 。！？, or . ! ? followed by whitespace) is flushed once
// it holds at least MinSegmentChars characters; shorter runs wait for more
// text or for Finalize. Segments are verbatim slices of the input.
//
// # Voice
//
// Voice is the per-session pipeline:
//
//	Feed(reply, delta) -> Segmenter -> queue -> worker -> Synthesizer -> tts_audio_segment
//	Finalize(reply)    -> tail + done marker          -> worker -> tts_done
//
// Every queued item carries the generation it was queued under. Reset bumps
// the generation, so the worker drops stale items without synthesizing them.
// Sequence numbers start at 1 for each reply.
//
// # Backends
//
// Synthesizer implementations: HTTPSynthesizer (OpenAI-compatible speech
// endpoint), FileSynthesizer (fixed audio for every segment), and
// SilentSynthesizer. Transcriber handles inbound voice input.
package speech
