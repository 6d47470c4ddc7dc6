// Package journal records the commands the host consumed and the robot
// modes it reported into SQLite, so a match or practice session can be
// reviewed afterwards.
//
// Recording is off the control path: the host hands collected batches to a
// Writer, which copies payloads into a bounded buffer and persists them in
// batches from its own goroutine. When the buffer is full entries are
// dropped and counted rather than stalling the tick.
//
// Usage:
//
//	repo := journal.NewSQLiteRepository(db.DB)
//	w := journal.NewWriter(repo, cfg.Journal)
//	host.Observe(w.Observe)
//	go w.Run(ctx)
package journal
