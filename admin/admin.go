package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/crawlkit/election"
	"github.com/vinayprograms/crawlkit/handler"
	"github.com/vinayprograms/crawlkit/logging"
	"github.com/vinayprograms/crawlkit/runner"
	"github.com/vinayprograms/crawlkit/store"
)

// Common errors.
var (
	ErrNilManager = errors.New("admin: store manager is nil")
	ErrNoAddr     = errors.New("admin: listen address is empty")
)

// StatsSource reports dispatch counters.
type StatsSource interface {
	Stats() runner.Stats
}

// Config configures the admin server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// QueueKey is the queue reported on and pushed to.
	// Default: "TASK_QUEUE"
	QueueKey string

	// Registry lists active handlers (optional).
	Registry *handler.Registry

	// Elector reports leadership (optional).
	Elector *election.Elector

	// Runner reports dispatch counters (optional).
	Runner StatsSource

	// EnqueueRate limits POST /tasks requests per second. Zero disables the
	// limit.
	EnqueueRate float64

	// EnqueueBurst is the number of requests allowed at once.
	// Default: 1 (when EnqueueRate is set)
	EnqueueBurst int

	// Timeout bounds each store call.
	// Default: 5 seconds
	Timeout time.Duration

	// Logger for request logs (optional).
	Logger *logging.Logger
}

// Server is the admin HTTP server.
type Server struct {
	mgr      *store.Manager
	addr     string
	queue    string
	registry *handler.Registry
	elector  *election.Elector
	runner   StatsSource
	timeout  time.Duration
	logger   *logging.Logger
	limiter  *rate.Limiter
	engine   *gin.Engine
}

// New creates a Server and its routes.
func New(mgr *store.Manager, cfg Config) (*Server, error) {
	if mgr == nil {
		return nil, ErrNilManager
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = runner.DefaultQueueKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		mgr:      mgr,
		addr:     cfg.Addr,
		queue:    cfg.QueueKey,
		registry: cfg.Registry,
		elector:  cfg.Elector,
		runner:   cfg.Runner,
		timeout:  cfg.Timeout,
		logger:   logger.WithComponent("admin"),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.GET("/healthz", s.healthz)
	r.GET("/stats", s.stats)
	if cfg.EnqueueRate > 0 {
		burst := cfg.EnqueueBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.EnqueueRate), burst)
		r.POST("/tasks", s.limit, s.enqueue)
	} else {
		r.POST("/tasks", s.enqueue)
	}
	s.engine = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		return ErrNoAddr
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin_listening", map[string]interface{}{"addr": s.addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) limit(c *gin.Context) {
	if !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "enqueue rate exceeded"})
		return
	}
	c.Next()
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	err := s.mgr.Do(ctx, func(conn *store.Conn) error {
		_, err := conn.QueueLength(ctx, s.queue)
		return err
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "worker": s.mgr.Identity()})
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Worker   string        `json:"worker"`
	Queue    string        `json:"queue"`
	Queued   int64         `json:"queued"`
	InFlight int64         `json:"in_flight"`
	Leader   string        `json:"leader,omitempty"`
	IsLeader bool          `json:"is_leader"`
	Handlers []string      `json:"handlers"`
	Runner   *runner.Stats `json:"runner,omitempty"`
}

func (s *Server) stats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	resp := statsResponse{
		Worker:   s.mgr.Identity(),
		Queue:    s.queue,
		Handlers: []string{},
	}
	err := s.mgr.Do(ctx, func(conn *store.Conn) error {
		var err error
		if resp.Queued, err = conn.QueueLength(ctx, s.queue); err != nil {
			return err
		}
		if resp.InFlight, err = conn.InFlightLength(ctx, s.queue); err != nil {
			return err
		}
		if s.elector != nil {
			if resp.Leader, err = s.elector.Leader(ctx, conn); err != nil {
				return err
			}
			resp.IsLeader = resp.Leader == s.elector.Identity()
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if s.registry != nil {
		for _, h := range s.registry.Active() {
			resp.Handlers = append(resp.Handlers, h.Name())
		}
	}
	if s.runner != nil {
		st := s.runner.Stats()
		resp.Runner = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) enqueue(c *gin.Context) {
	var body any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}

	tasks, ok := parseTasks(body)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a task object or an array of task objects with a \"task\" field"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	values := make([]any, len(tasks))
	for i, t := range tasks {
		values[i] = t
	}
	err := s.mgr.Do(ctx, func(conn *store.Conn) error {
		return conn.QueuePush(ctx, s.queue, values...)
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("tasks_enqueued", map[string]interface{}{
		"queue": s.queue,
		"count": len(tasks),
	})
	c.JSON(http.StatusAccepted, gin.H{"queued": len(tasks)})
}

// parseTasks accepts a single object or a non-empty array of objects, each
// with a non-empty kind.
func parseTasks(body any) ([]handler.Task, bool) {
	var items []any
	switch v := body.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, false
	}
	if len(items) == 0 {
		return nil, false
	}

	tasks := make([]handler.Task, 0, len(items))
	for _, item := range items {
		task, ok := handler.FromValue(item)
		if !ok || task.Kind() == "" {
			return nil, false
		}
		tasks = append(tasks, task)
	}
	return tasks, true
}
