// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in the order they were enqueued.
// - Tasks in different lanes may execute concurrently.
// - A lane with nothing queued or running is forgotten.
// - Queue depth and task duration are exported as metrics.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	err := queue.Enqueue(ctx, "session:abc", func(ctx context.Context) error {
//		return svc.Handle(ctx, question)
//	})
package commandqueue
