// Package agent runs the tool-augmented conversation loop for one turn.
//
// Invariants:
// - Each round makes exactly one provider call; depth is incremented before
//   every round and a turn never makes more than MaxDepth provider calls.
// - At most one tool call is executed per round, and its assistant entry is
//   immediately followed by the matching tool entry in the transcript.
// - Partial assistant content is streamed to the caller but never written to
//   memory; committing the reply is the caller's job.
// - A turn ends with exactly one error or done event unless its context is
//   cancelled first.
//
// Usage:
//
//	a, _ := agent.New(agent.Options{
//		Config:   agent.DefaultConfig(),
//		Provider: provider,
//		Tools:    registry,
//		Prompt:   prompts.Default(),
//	})
//	for ev := range a.Chat(ctx, "hello", history) {
//		...
//	}
//	transcript := a.Transcript()
package agent
