// Package session owns per-conversation state: history, task tree, usage
// accounting, tool logs and the agent's operational state.
//
// Invariants:
// - The in-memory cache holds canonical sessions only; legacy records are
//   normalized on first load.
// - At most one durable write per session is in flight. Concurrent save
//   requests join it; requests that carry newer state join the next one.
// - The task tree is acyclic and parents are referenced by id only.
// - Entering the idle state clears the interruption flag.
// - The TTL sweep never evicts a session with an outstanding or pending save.
//
// Usage:
//
//	mgr := session.NewManager(session.Config{Store: session.NewMemoryStore()})
//	sess, _ := mgr.EnsureSession(ctx, "s1", session.CreateOptions{WorkingDirectory: "/proj"})
//	_, _ = mgr.AddTask(ctx, sess.ID, session.TaskInput{Title: "write tests"})
package session
