// Package agent runs the model/tool loop of a session.
//
// Invariants:
// - Turns are serialized per session through a commandqueue lane.
// - An assistant turn with tool calls is persisted before its tools run,
//   and every tool call gets exactly one result message, synthetic
//   "interrupted" results included.
// - Cancellation is observed through the context and the session's sticky
//   interruption flag; an aborted run returns ErrAborted and never a value.
// - Nested sub-agent runs write nothing to the session store.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Gateway: gw, Sessions: sessions, Tools: tools})
//	result, _ := runner.HandleMessage(ctx, agent.HandleParams{
//		SessionID: "abc",
//		Text:      "list files",
//		Sink:      agent.SinkFunc(func(e agent.Event) { fmt.Println(e.Type) }),
//	})
//	_ = result
package agent
