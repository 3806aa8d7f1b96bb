// Package config loads crawler process configuration.
//
// Values are resolved in order, later sources winning:
//
//  1. Built-in defaults
//  2. A TOML file: $CRAWLER_CONFIG, or ./crawler.toml when present
//  3. A credentials file holding the Redis password (see LoadCredentials)
//  4. Environment variables
//
// # Environment
//
//	WORKER             worker identity (default: <hostname>-<uuid>)
//	REDIS_HOST         store host (default: localhost)
//	REDIS_PORT         store port (default: 6379)
//	REDIS_PASSWORD     store password
//	REDIS_DB           store database index
//	SLEEP_QUEUE_EMPTY  seconds to sleep when the queue is empty, at least 1 (default: 60)
//	LOG_LEVEL          debug, info, warn, error (default: info)
//	ADMIN_ADDR         admin HTTP listen address (default: disabled)
//
// # File Format
//
//	worker = "crawler-1"
//
//	[redis]
//	host = "redis"
//	port = 6379
//
//	[queue]
//	key = "TASK_QUEUE"
//	sleep_empty = "60s"
//	fail_fast = false
//
//	[leader]
//	key = "LEADER"
//	ttl = "20m"
//
//	[proxy]
//	enabled = true
//	interval = "1h"
package config
