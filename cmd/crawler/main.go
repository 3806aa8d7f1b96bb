// Command crawler runs one worker of a crawler fleet.
//
// Every worker consumes the shared task queue in Redis. Whichever worker
// holds the leader lease also runs the proxy pool refresher.
//
// Run: crawler [-seed]
// Stop: SIGTERM or SIGINT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/crawlkit/admin"
	"github.com/vinayprograms/crawlkit/config"
	"github.com/vinayprograms/crawlkit/election"
	"github.com/vinayprograms/crawlkit/handler"
	"github.com/vinayprograms/crawlkit/logging"
	"github.com/vinayprograms/crawlkit/proxy"
	"github.com/vinayprograms/crawlkit/runner"
	"github.com/vinayprograms/crawlkit/shutdown"
	"github.com/vinayprograms/crawlkit/store"
	"github.com/vinayprograms/crawlkit/telemetry"
)

var version = "dev"

func main() {
	seed := flag.Bool("seed", false, "enqueue the first proxy refresh task and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*seed); err != nil {
		fmt.Fprintf(os.Stderr, "crawler: %v\n", err)
		os.Exit(1)
	}
}

func run(seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	logger = logger.WithWorker(cfg.Worker)

	el, err := election.New(election.Config{
		Key:      cfg.Leader.Key,
		Identity: cfg.Worker,
		TTL:      cfg.Leader.TTL.Std(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	mgr, err := store.NewManager(
		store.RedisDialer(store.RedisConfig{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout.Std(),
		}),
		cfg.Worker,
		store.WithLogger(logger),
		store.WithAcquireHook(el.Hook()),
	)
	if err != nil {
		return err
	}

	var provider *proxy.Provider
	if cfg.Proxy.Enabled {
		provider, err = proxy.New(mgr, proxy.Config{
			URL:      cfg.Proxy.URL,
			PoolKey:  cfg.Proxy.PoolKey,
			Interval: cfg.Proxy.Interval.Std(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}

	if seed {
		defer mgr.Close()
		return seedTasks(mgr, cfg.Queue.Key, provider, logger)
	}

	registry := handler.NewRegistry()
	if provider != nil {
		if err := registry.RegisterLeaderOnly(provider); err != nil {
			return err
		}
	}

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: cfg.Shutdown.Timeout.Std(),
		Logger:  logger,
	})

	tracer := telemetry.GetTracer()
	if cfg.Telemetry.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{
			Endpoint:       cfg.Telemetry.Endpoint,
			Protocol:       cfg.Telemetry.Protocol,
			Insecure:       cfg.Telemetry.Insecure,
			Worker:         cfg.Worker,
			ServiceVersion: version,
		})
		if err != nil {
			return err
		}
		tracer = tp.Tracer()
		coord.RegisterFuncWithPhase("tracing", tp.Shutdown, shutdown.PhaseTelemetry)
	}

	events, err := telemetry.NewExporter(telemetry.ExporterConfig{
		Protocol: cfg.Telemetry.Events,
		Endpoint: cfg.Telemetry.EventsEndpoint,
		Worker:   cfg.Worker,
	})
	if err != nil {
		return err
	}
	coord.RegisterFuncWithPhase("events", func(context.Context) error {
		return events.Close()
	}, shutdown.PhaseTelemetry)

	r, err := runner.New(mgr, registry, runner.Config{
		QueueKey:   cfg.Queue.Key,
		SleepEmpty: cfg.Queue.SleepEmpty.Std(),
		FailFast:   cfg.Queue.FailFast,
		Elector:    el,
		Logger:     logger,
		Tracer:     tracer,
		Events:     events,
	})
	if err != nil {
		return err
	}

	sup := shutdown.NewSupervisor(context.Background(), logger)
	sup.Go("runner", r.Run)

	if cfg.Admin.Addr != "" {
		srv, err := admin.New(mgr, admin.Config{
			Addr:         cfg.Admin.Addr,
			QueueKey:     cfg.Queue.Key,
			Registry:     registry,
			Elector:      el,
			Runner:       r,
			EnqueueRate:  cfg.Admin.EnqueueRate,
			EnqueueBurst: cfg.Admin.EnqueueBurst,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		sup.Go("admin", srv.Run)
	}

	coord.RegisterWithPhase("operations", sup, shutdown.PhaseOperations)
	coord.RegisterFuncWithPhase("store", func(context.Context) error {
		return mgr.Close()
	}, shutdown.PhaseStore)
	coord.HandleSignals()

	logger.Info("crawler_started", map[string]interface{}{
		"queue": cfg.Queue.Key,
		"redis": fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
	})

	// The runner stops on its own only when it fails (fail-fast) or an
	// operation errors; shut down the rest in that case too.
	select {
	case <-sup.Context().Done():
		go coord.ShutdownWithTimeout(0)
	case <-coord.Started():
	}
	<-coord.Done()

	if err := sup.Wait(); err != nil {
		return err
	}
	return coord.Err()
}

// seedTasks enqueues the first proxy refresh task so the leader starts the
// refresh cycle.
func seedTasks(mgr *store.Manager, queue string, provider *proxy.Provider, logger *logging.Logger) error {
	if provider == nil {
		return fmt.Errorf("nothing to seed: proxy refresher is disabled")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := mgr.Do(ctx, func(c *store.Conn) error {
		return c.QueuePush(ctx, queue, provider.NewTask(time.Now()))
	})
	if err != nil {
		return err
	}
	logger.Info("seeded", map[string]interface{}{"queue": queue, "task": proxy.TaskKind})
	return nil
}
