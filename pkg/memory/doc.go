// Package memory holds the per-turn conversation transcript of an agent.
//
// Invariants:
// - At most one system message exists and it is always at index 0.
// - Insertion order is preserved; it is the literal prompt sent to the provider.
// - A Conversation is owned by exactly one agent turn at a time.
//
// Usage:
//
//	conv := memory.NewConversation()
//	conv.InitializeSystemPrompt("You are a helpful assistant.")
//	conv.LoadHistory(previous)
//	_ = conv.Append(schema.UserMessage("hello"))
package memory
