// Package completion adapts streaming chat-completion backends into a
// uniform event stream for the agent.
//
// A Backend yields raw chunks (content fragments, tool-call fragments and a
// finish reason). The Adapter turns them into Events:
//
//   - every content fragment is forwarded as its own content Event
//   - tool-call fragments are coalesced: the id and name are taken once and
//     argument fragments are concatenated; only the first call of a batch is
//     surfaced, and only together with Finish("tool_calls")
//   - arguments must decode to a JSON object (empty means {}) with keys of at
//     most 100 characters and string values of at most 1000 characters
//   - every failure becomes exactly one error Event carrying a user-facing
//     message; Stream never panics or returns an error
//
// Usage:
//
//	backend, err := completion.NewBackend("openai", completion.BackendOptions{APIKey: key})
//	provider := completion.NewAdapter(backend, completion.WithTimeout(30*time.Second))
//	for ev := range provider.Stream(ctx, messages, tools) {
//	    ...
//	}
package completion
