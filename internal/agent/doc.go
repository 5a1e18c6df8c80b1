// Package agent connects conversations to the external agent runner.
//
// # Runner
//
// A Runner executes one user turn:
//
//	res, err := runner.Run(ctx, agent.RunRequest{
//	    SessionID: id,
//	    Agent:     handle,
//	    Input:     text,
//	    History:   transcript,
//	    MaxTurns:  20,
//	    Stream:    true,
//	}, func(ev agent.StreamEvent) { ... })
//
// Streamed events (text deltas, tool calls, handoffs) reach emit in order
// before Run returns. The Result carries the final text (possibly empty) and
// the agent that should handle the next turn (nil when unchanged).
//
// # Implementations
//
//   - EchoRunner: canned replies streamed word by word, no backend needed
//   - HTTPRunner: POSTs a WireRequest and reads newline-delimited WireEvents
//
// Handler serves any Runner over the same protocol, so an EchoRunner behind
// Handler is a drop-in remote runner for end-to-end tests.
//
// # Wire protocol
//
//	-> {"session_id":"17","agent":"Main","input":"hi","history":[...],"max_turns":20,"stream":true}
//	<- {"type":"text_delta","delta":"He"}
//	<- {"type":"tool_call","phase":"start","name":"read_file","call_id":"c1","arguments":"{}"}
//	<- {"type":"tool_call","phase":"end","name":"read_file","call_id":"c1","output":"..."}
//	<- {"type":"handoff","to_agent":"Coder"}
//	<- {"type":"result","final_text":"Hello!","last_agent":"Coder"}
//
// A stream may end with {"type":"error","message":"..."} instead of a result.
package agent
