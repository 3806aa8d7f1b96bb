// Package store provides the coordination store shared by crawlkit workers.
//
// A Backend speaks the small set of atomic key-value primitives the workers
// rely on (set-if-absent with expiry, sets, lists with an atomic
// pop-and-push). Two backends are provided: Redis (production) and an
// in-process MemoryStore (tests, single-process deployments).
//
// # Key Features
//
//   - Leader lease: AcquireLease / LeaseOwner / IsLeader on a TTL-bound key
//   - Sets: SetAdd / SetPickRandom / SetRemove / SetCount
//   - Reliable queue: QueuePush / QueueReliablePop / QueueAcknowledge / QueueLength
//   - Scoped acquisition: Manager.Do connects lazily and always releases
//
// # Reliable Queue
//
// QueuePush appends at the head of the list. QueueReliablePop atomically moves
// the tail entry into the caller's private in-flight list
// (<queue>_<identity>), so the queue is FIFO and an entry is never visible to
// two workers at once. QueueAcknowledge removes one matching entry from the
// in-flight list once processing is done.
//
// Entries left in an in-flight list by a worker that crashed or was cancelled
// mid-task are not recovered automatically.
//
// # Usage
//
//	mgr, _ := store.NewManager(store.RedisDialer(store.RedisConfig{Host: "localhost", Port: 6379}), "worker-1")
//	defer mgr.Close()
//
//	err := mgr.Do(ctx, func(c *store.Conn) error {
//	    if err := c.QueuePush(ctx, "TASK_QUEUE", map[string]any{"task": "refresh"}); err != nil {
//	        return err
//	    }
//	    task, err := c.QueueReliablePop(ctx, "TASK_QUEUE")
//	    if err != nil || task == nil {
//	        return err
//	    }
//	    _, err = c.QueueAcknowledge(ctx, "TASK_QUEUE", task)
//	    return err
//	})
//
//	// Testing: in-memory
//	mem := store.NewMemoryStore()
//	mgr, _ := store.NewManager(mem.Dialer(), "worker-1")
package store
