// Package election decides which crawlkit worker is the leader.
//
// Leadership is a lease key in the coordination store holding the leader's
// worker identity with a TTL. Every worker tries to take the lease each time
// it acquires the store; the attempt is a single set-if-absent, so when the
// lease is already held it changes nothing. There is no release: a leader
// that dies or stalls loses the lease when the TTL runs out, and the next
// worker to acquire the store takes over.
//
// # Usage
//
//	el, _ := election.New(election.Config{Identity: "worker-1"})
//	mgr, _ := store.NewManager(dial, "worker-1", store.WithAcquireHook(el.Hook()))
//
//	mgr.Do(ctx, func(c *store.Conn) error {
//	    leader, err := el.IsLeader(ctx, c)
//	    ...
//	})
package election
