package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json"})
	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn"})

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info passed a warn-level logger: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn did not pass a warn-level logger")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "gate")
	logger.Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["component"] != "gate" {
		t.Fatalf("component missing: %v", entry)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "session-1")
	id, ok := SessionIDFromContext(ctx)
	if !ok || id != "session-1" {
		t.Fatalf("session ID lost: %q %v", id, ok)
	}

	if _, ok := SessionIDFromContext(context.Background()); ok {
		t.Fatalf("session ID reported on an empty context")
	}
	if ctx := ContextWithSessionID(context.Background(), "  "); ctx != context.Background() {
		t.Fatalf("blank session ID should not annotate the context")
	}
}

func TestWithContextAnnotatesSessionID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	ctx := ContextWithSessionID(context.Background(), "session-1")

	WithContext(ctx, logger).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["session_id"] != "session-1" {
		t.Fatalf("session_id missing: %v", entry)
	}
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	req := httptest.NewRequest(http.MethodGet, "/hooks/publish", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v\n%s", err, buf.String())
	}
	if entry["method"] != "GET" || entry["path"] != "/hooks/publish" {
		t.Fatalf("unexpected request fields: %v", entry)
	}
	if status, ok := entry["status"].(float64); !ok || int(status) != http.StatusTeapot {
		t.Fatalf("status not recorded: %v", entry["status"])
	}
	if _, ok := entry["remote_addr"]; !ok {
		t.Fatalf("remote_addr missing: %v", entry)
	}
}

func TestRequestLoggerCanOmitRemoteAddr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})

	handler := RequestLogger(RequestLoggerConfig{Logger: logger, DisableRemoteAddr: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if _, ok := entry["remote_addr"]; ok {
		t.Fatalf("remote_addr present despite being disabled: %v", entry)
	}
}
