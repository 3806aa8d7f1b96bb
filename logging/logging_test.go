package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	// Debug should be filtered
	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	if buf.Len() == 0 {
		t.Error("info message should be logged")
	}

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("runner")
	logger.SetOutput(&buf)

	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "[runner]") {
		t.Errorf("expected component 'runner' in log, got: %s", output)
	}
}

func TestLogger_WithWorker(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithWorker("worker-1").WithComponent("store").Info("connected")

	output := buf.String()
	if !strings.Contains(output, "worker=worker-1") {
		t.Errorf("expected worker field, got: %s", output)
	}
	if !strings.Contains(output, "[store]") {
		t.Errorf("expected component, got: %s", output)
	}
}

func TestLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.Info("pop", map[string]interface{}{
		"queue": "TASK_QUEUE",
		"b":     2,
		"a":     1,
	})

	output := buf.String()
	if !strings.Contains(output, "a=1 b=2 queue=TASK_QUEUE") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_Nop(t *testing.T) {
	// Must not panic and must not write to stdout.
	Nop().Error("discarded")
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New().WithComponent("test")
	logger.SetOutput(&buf)

	logger.Info("hello world", map[string]interface{}{"key": "value"})

	output := buf.String()
	// Example: INFO  2026-02-05T04:00:00.000Z [test] hello world key=value
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[test]") {
		t.Errorf("expected component [test], got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}
}

func TestLogger_DispatchEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.LeaderAcquired("LEADER", 20*time.Minute)
	logger.TaskRouted("refresh", "refresher")
	logger.TaskFinished("refresh", "refresher", 1, 10*time.Millisecond)
	logger.TaskUnroutable("unknown_kind")
	logger.QueueEmpty("TASK_QUEUE", time.Minute)

	output := buf.String()
	for _, want := range []string{
		"leader_acquired", "ttl=20m0s",
		"task_routed", "handler=refresher",
		"task_finished", "children=1",
		"WARN", "task_unroutable", "task=unknown_kind",
		"queue_empty", "sleep=1m0s",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}
