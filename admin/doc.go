// Package admin serves a small HTTP API for operating a worker.
//
// Routes:
//
//	GET  /healthz   store reachability
//	GET  /stats     queue depth, leadership, active handlers, runner counters
//	POST /tasks     enqueue one task object or an array of them
//
// The server is optional; it runs only when an address is configured.
package admin
