package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	if NewLogger(nil) == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestSynchronousLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("device attached", "device_id", 42)
	output := buf.String()
	if !strings.Contains(output, "device attached") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "device_id") || !strings.Contains(output, "42") {
		t.Errorf("expected device_id=42 field in output, got: %s", output)
	}
}

func TestSetLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should be filtered")
	logger.Info("also filtered")
	if buf.Len() != 0 {
		t.Errorf("expected no output below Warn threshold, got: %s", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message, got: %s", buf.String())
	}
}

func TestInitializeFinalizeRefCounting(t *testing.T) {
	singletonMu.Lock()
	singleton = nil
	singletonMu.Unlock()

	var buf bytes.Buffer
	cfg := &Config{Level: LevelDebug, Output: &buf, RingSize: 16}

	a := Initialize(cfg)
	b := Initialize(cfg)
	if a != b {
		t.Fatal("Initialize should return the same singleton on repeated calls")
	}

	a.Info("async message")
	// Give the drain goroutine a chance to run before finalizing.
	time.Sleep(10 * time.Millisecond)
	if !strings.Contains(buf.String(), "async message") {
		t.Errorf("expected async message to be drained, got: %s", buf.String())
	}

	Finalize() // still one ref held
	if singleton == nil {
		t.Fatal("logger should survive while a reference remains")
	}
	Finalize() // last ref
	if singleton != nil {
		t.Error("logger should be torn down once ref count reaches zero")
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
