// Package session persists conversation transcripts and runs turns for a
// connected client.
//
// Invariants:
// - Session ids are validated and path-safe for every backend.
// - A transcript is always replaced as a whole, never appended to, and the
//   expiry is renewed on every write.
// - Every turn is terminated with an EndOfTurn frame while the transport is alive.
// - The transcript is persisted after every non-blank turn, before EndOfTurn is
//   sent, also when the turn failed or was abandoned.
//
// Usage:
//
//	store, _ := session.OpenStore(session.StoreConfig{Backend: "file", Path: "/tmp/confer/sessions"})
//	svc, _ := session.NewService(session.ServiceOptions{SessionID: "abc", Agent: a, Store: store})
//	_ = svc.Open(ctx, transport)
//	_ = svc.Handle(ctx, "What is an index fund?")
package session
