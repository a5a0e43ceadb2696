package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("hello", "channel", "news.sports")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["channel"] != "news.sports" {
		t.Errorf("channel = %v, want news.sports", entry["channel"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Debug("probe")
	if !strings.Contains(buf.String(), "msg=probe") {
		t.Errorf("text output missing message: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("shown")
	if buf.Len() == 0 {
		t.Error("expected warn output")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	SetLevel("debug")
	defer SetLevel("info")

	if got := GetLevel(); got != "debug" {
		t.Errorf("GetLevel = %q, want debug", got)
	}

	l.Debug("now visible")
	if buf.Len() == 0 {
		t.Error("expected debug output after SetLevel")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.With("node", "10.0.0.1:6379").Info("routed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["node"] != "10.0.0.1:6379" {
		t.Errorf("node = %v, want 10.0.0.1:6379", entry["node"])
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := WithLogger(context.Background(), l)
	if got := FromContext(ctx); got != l {
		t.Error("FromContext did not return the attached logger")
	}

	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext without logger should return default, got nil")
	}
}

func TestClientIDContext(t *testing.T) {
	ctx := WithClientID(context.Background(), "01JABCDEF")
	if got := ClientIDFromContext(ctx); got != "01JABCDEF" {
		t.Errorf("ClientIDFromContext = %q, want 01JABCDEF", got)
	}
	if got := ClientIDFromContext(context.Background()); got != "" {
		t.Errorf("ClientIDFromContext on empty context = %q, want empty", got)
	}
}

func TestL_BindsClientID(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := WithLogger(context.Background(), l)
	ctx = WithClientID(ctx, "01JCLIENT")
	L(ctx).Info("subscribed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["client_id"] != "01JCLIENT" {
		t.Errorf("client_id = %v, want 01JCLIENT", entry["client_id"])
	}
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	SetDefault(l)

	Info("via package helper")
	if buf.Len() == 0 {
		t.Error("expected output through default logger")
	}
}
