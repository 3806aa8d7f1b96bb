package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/crawlkit/handler"
	"github.com/vinayprograms/crawlkit/logging"
	"github.com/vinayprograms/crawlkit/store"
)

// Defaults.
const (
	DefaultURL      = "http://spys.me/proxy.txt"
	DefaultPoolKey  = "PROXY_POOL"
	DefaultInterval = time.Hour

	TaskKind  = "proxy_update"
	TimeField = "update_time"
)

// Lines before the proxy entries: the last-updated marker and a header.
const headerLines = 4

// Common errors.
var (
	ErrNilManager = errors.New("proxy: store manager required")
	ErrBadStatus  = errors.New("proxy: unexpected HTTP status")
	ErrEmptyPool  = errors.New("proxy: pool is empty")
)

var linePattern = regexp.MustCompile(`^([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}:[0-9]{1,5}) (.+)`)

// Proxy is one entry of the pool.
type Proxy struct {
	Addr         string `msgpack:"addr"`
	Country      string `msgpack:"country"`
	Anonymity    string `msgpack:"anonymity"`
	SupportHTTPS bool   `msgpack:"support_https"`
	GooglePassed bool   `msgpack:"google_passed"`
}

// Config configures a Provider.
type Config struct {
	// URL of the proxy list.
	// Default: http://spys.me/proxy.txt
	URL string

	// PoolKey is the set holding the pool.
	// Default: "PROXY_POOL"
	PoolKey string

	// Interval between refreshes.
	// Default: 1 hour
	Interval time.Duration

	// HTTPClient used for downloads.
	// Default: client with a 30 second timeout
	HTTPClient *http.Client

	// Logger (optional).
	Logger *logging.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Provider refreshes and serves the proxy pool.
type Provider struct {
	cfg      Config
	mgr      *store.Manager
	periodic *handler.Periodic
	logger   *logging.Logger

	mu          sync.Mutex
	lastUpdated string
}

var (
	_ handler.Handler  = (*Provider)(nil)
	_ handler.Deferrer = (*Provider)(nil)
)

// New creates a Provider storing its pool through mgr.
func New(mgr *store.Manager, cfg Config) (*Provider, error) {
	if mgr == nil {
		return nil, ErrNilManager
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.PoolKey == "" {
		cfg.PoolKey = DefaultPoolKey
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Provider{
		cfg:    cfg,
		mgr:    mgr,
		logger: logger.WithComponent("proxy"),
	}
	p.periodic = &handler.Periodic{
		HandlerName: "proxy-provider",
		Kind:        TaskKind,
		Field:       TimeField,
		Interval:    cfg.Interval,
		Action: func(ctx context.Context, _ handler.Task) error {
			_, err := p.UpdateOnce(ctx)
			return err
		},
		Now: cfg.Now,
	}
	return p, nil
}

// Name implements handler.Handler.
func (p *Provider) Name() string { return p.periodic.Name() }

// Accept takes due proxy_update tasks.
func (p *Provider) Accept(task handler.Task) bool { return p.periodic.Accept(task) }

// Defers reports proxy_update tasks that are not due yet.
func (p *Provider) Defers(task handler.Task) bool { return p.periodic.Defers(task) }

// Do refreshes the pool and schedules the next refresh.
func (p *Provider) Do(ctx context.Context, task handler.Task) ([]handler.Task, error) {
	return p.periodic.Do(ctx, task)
}

// NewTask returns a proxy_update task due at the given time.
func (p *Provider) NewTask(at time.Time) handler.Task {
	return p.periodic.NewTask(at)
}

// UpdateOnce downloads the list and adds its proxies to the pool. It returns
// the number of proxies parsed, or 0 if the list has not changed.
func (p *Provider) UpdateOnce(ctx context.Context) (int, error) {
	content, err := p.fetch(ctx)
	if err != nil {
		return 0, err
	}

	marker, proxies := parseList(content)

	p.mu.Lock()
	unchanged := marker == p.lastUpdated
	p.mu.Unlock()
	if unchanged {
		p.logger.Debug("proxy list unchanged", map[string]interface{}{"marker": marker})
		return 0, nil
	}

	if len(proxies) > 0 {
		values := make([]any, len(proxies))
		for i, px := range proxies {
			values[i] = px
		}
		err := p.mgr.Do(ctx, func(c *store.Conn) error {
			return c.SetAdd(ctx, p.cfg.PoolKey, values...)
		})
		if err != nil {
			return 0, err
		}
	}

	p.mu.Lock()
	p.lastUpdated = marker
	p.mu.Unlock()

	p.logger.Info("proxy pool updated", map[string]interface{}{
		"proxies": len(proxies),
		"pool":    p.cfg.PoolKey,
	})
	return len(proxies), nil
}

// Pick returns an arbitrary proxy from the pool.
func (p *Provider) Pick(ctx context.Context) (*Proxy, error) {
	var px *Proxy
	err := p.mgr.Do(ctx, func(c *store.Conn) error {
		v, err := c.SetPickRandom(ctx, p.cfg.PoolKey)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrEmptyPool
		}
		px, err = fromValue(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return px, nil
}

// Count returns the pool size.
func (p *Provider) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.mgr.Do(ctx, func(c *store.Conn) error {
		var err error
		n, err = c.SetCount(ctx, p.cfg.PoolKey)
		return err
	})
	return n, err
}

func (p *Provider) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// parseList splits a proxy list into its last-updated marker and entries.
func parseList(content string) (string, []Proxy) {
	lines := strings.Split(content, "\n")
	marker := strings.TrimSpace(lines[0])

	var proxies []Proxy
	if len(lines) <= headerLines {
		return marker, proxies
	}
	for _, line := range lines[headerLines:] {
		if px, ok := parseLine(strings.TrimSpace(line)); ok {
			proxies = append(proxies, px)
		}
	}
	return marker, proxies
}

// parseLine parses an entry such as "1.2.3.4:8080 US-H-S +".
func parseLine(line string) (Proxy, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Proxy{}, false
	}
	addr, option := m[1], m[2]
	if len(option) < 4 {
		return Proxy{}, false
	}
	return Proxy{
		Addr:         addr,
		Country:      option[:2],
		Anonymity:    option[3:4],
		SupportHTTPS: strings.Contains(option[4:], "-S"),
		GooglePassed: strings.HasSuffix(option, "+"),
	}, true
}

// fromValue rebuilds a Proxy from a decoded pool member.
func fromValue(v any) (*Proxy, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("proxy: unexpected pool member %T", v)
	}
	str := func(k string) string { s, _ := m[k].(string); return s }
	flag := func(k string) bool { b, _ := m[k].(bool); return b }
	return &Proxy{
		Addr:         str("addr"),
		Country:      str("country"),
		Anonymity:    str("anonymity"),
		SupportHTTPS: flag("support_https"),
		GooglePassed: flag("google_passed"),
	}, nil
}
