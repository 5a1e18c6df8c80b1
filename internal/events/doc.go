// Package events carries realtime notifications from conversations to
// connected clients.
//
// # Envelope
//
// An Envelope is {type, session_id, payload}. On the wire the payload fields
// are flattened next to type and session_id:
//
//	{"type":"assistant_text_delta","session_id":"1718000000000","reply_to":"m1","delta":"He"}
//
// # Bus
//
// Bus is a single-process broadcaster:
//
//	bus := events.NewBus(256, logger)
//	go bus.Run(ctx)
//	bus.Subscribe(conn, sessionID)
//	bus.Publish(events.New(events.TypeAck, sessionID, events.Ack{MessageID: id}))
//
// Publish never blocks. A full queue drops the newest event (at-most-once).
// One dispatch loop drains the queue, so events of a session arrive in
// publish order. A subscriber whose Deliver fails is removed without
// affecting the others.
package events
