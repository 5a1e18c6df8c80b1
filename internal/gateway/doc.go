// Package gateway serves murmur-gateway over HTTP and WebSocket.
//
// # Architecture
//
// One echo server carries everything:
//
//	/ws                         client event stream (gorilla/websocket)
//	/health, /health/ready      liveness, sessions dir writable
//	/api/sessions               GET list, POST create (becomes active)
//	/api/sessions/active        PUT {session_id}
//	/api/sessions/:id/messages  GET ?limit=1..200 (default 50)
//	/api/sessions/:id/archive   POST
//	/api/sessions/:id/rollover  POST archive + new active session
//
// Run drives the HTTP server and the event bus dispatch loop in one errgroup.
//
// # Connections
//
// A connection binds to ?session_id if that transcript exists, else the
// active session, else a new one. Binding replays the last
// sessions.history_limit records as events, subscribes the connection to the
// session on the bus, and sends meta{event:"session_bound"}.
//
// Inbound messages:
//
//	user_message        {message_id, text}
//	voice_input         {message_id, audio (base64), mime}
//	voice_output_toggle {enabled?}   omitted flips the current setting
//	session_switch      {session_id}
//
// user_message and voice_input are acked immediately with the number of turns
// already queued for the session, then run in the background. A message_id
// seen within dedupe.ttl is acked but not run again.
//
// Protocol violations (invalid_json, unsupported_type, session_mismatch,
// payload_too_large) are answered with an error event; the connection stays
// open. A client whose send buffer fills is disconnected.
package gateway
