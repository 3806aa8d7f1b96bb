// Package proxy keeps a pool of public HTTP proxies in the coordination store.
//
// The Provider is a leader-only periodic handler: on each "proxy_update"
// task that is due it downloads the spys.me proxy list, and if the list
// changed since the last download, adds every parsed proxy to the
// PROXY_POOL set. Any worker can then Pick a proxy from the pool.
//
// # Usage
//
//	p, _ := proxy.New(mgr, proxy.Config{})
//	reg.RegisterLeaderOnly(p)
//
//	// Seed the first run.
//	mgr.Do(ctx, func(c *store.Conn) error {
//	    return c.QueuePush(ctx, "TASK_QUEUE", p.NewTask(time.Now()))
//	})
package proxy
