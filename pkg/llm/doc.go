// Package llm is the provider gateway: one canonical chat contract in front
// of every vendor backend.
//
// Invariants:
// - Vendor request/response shapes never leave a Driver.
// - Responses always carry RoleAssistant; ToolCalls is either well formed or nil.
// - A done context surfaces as ErrCancelled, never as a ProviderError.
// - Model quirks are looked up by (driver, model substring), not by type.
//
// Usage:
//
//	gw := llm.NewGateway(llm.GatewayConfig{Registry: llm.DefaultRegistry()})
//	resp, err := gw.Chat(ctx, "anthropic", llm.Request{
//		Model:    "claude-3-5-sonnet-latest",
//		Messages: []llm.Message{llm.UserText("hello")},
//	}, llm.Credentials{APIKey: key})
package llm
