package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug"}, &buf)

	ctx := ContextWithRequestID(context.Background(), "01HX")
	WithRequestID(ctx, l).Debug("network call completed", "key", "GET /people/rows")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if entry["request_id"] != "01HX" || entry["key"] != "GET /people/rows" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "text"}, &buf)
	l.Info("dropped")
	l.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "msg=kept") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING") != slog.LevelWarn || ParseLevel("nope") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
	if RequestID(context.Background()) != "" {
		t.Error("empty context carries a request id")
	}
}
