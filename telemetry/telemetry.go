package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Exporter receives dispatch events.
type Exporter interface {
	// LogEvent records an event with the given name and data.
	LogEvent(name string, data map[string]interface{})
	// Flush sends any buffered events.
	Flush() error
	// Close flushes and releases the exporter.
	Close() error
}

// Event is one exported dispatch event.
type Event struct {
	Name      string                 `json:"name"`
	Worker    string                 `json:"worker,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event names.
const (
	EventTaskFinished   = "task_finished"
	EventTaskFailed     = "task_failed"
	EventTaskUnroutable = "task_unroutable"
	EventTaskDeferred   = "task_deferred"
)

// ExporterConfig selects and configures an event exporter.
type ExporterConfig struct {
	// Protocol is "http", "file" or "noop" (empty = noop).
	Protocol string

	// Endpoint is the URL (http) or path (file).
	Endpoint string

	// Worker is stamped on every event.
	Worker string

	// BatchSize is how many events the HTTP exporter buffers before sending.
	// Default: 100
	BatchSize int
}

// NewExporter creates an exporter for the configured protocol.
func NewExporter(cfg ExporterConfig) (Exporter, error) {
	switch cfg.Protocol {
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http exporter requires an endpoint")
		}
		return NewHTTPExporter(cfg), nil
	case "file":
		return NewFileExporter(cfg)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", cfg.Protocol)
	}
}

// --- HTTP Exporter ---

// HTTPExporter POSTs events as a JSON array once BatchSize events are
// buffered, and on Flush.
type HTTPExporter struct {
	endpoint  string
	worker    string
	batchSize int
	client    *http.Client

	mu     sync.Mutex
	buffer []Event
}

// NewHTTPExporter creates an HTTP exporter.
func NewHTTPExporter(cfg ExporterConfig) *HTTPExporter {
	size := cfg.BatchSize
	if size <= 0 {
		size = 100
	}
	return &HTTPExporter{
		endpoint:  cfg.Endpoint,
		worker:    cfg.Worker,
		batchSize: size,
		client:    &http.Client{Timeout: 10 * time.Second},
		buffer:    make([]Event, 0, size),
	}
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.buffer = append(e.buffer, Event{
		Name:      name,
		Worker:    e.worker,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if len(e.buffer) >= e.batchSize {
		// A failed batch stays buffered for the next attempt.
		_ = e.send()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send()
}

// send must be called with the lock held.
func (e *HTTPExporter) send() error {
	if len(e.buffer) == 0 {
		return nil
	}

	body, err := json.Marshal(e.buffer)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("event endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends events to a file as JSON lines.
type FileExporter struct {
	worker string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileExporter opens (or creates) the file at cfg.Endpoint for appending.
func NewFileExporter(cfg ExporterConfig) (*FileExporter, error) {
	file, err := os.OpenFile(cfg.Endpoint, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return &FileExporter{worker: cfg.Worker, file: file, enc: json.NewEncoder(file)}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Encode writes the trailing newline.
	_ = e.enc.Encode(Event{
		Name:      name,
		Worker:    e.worker,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
