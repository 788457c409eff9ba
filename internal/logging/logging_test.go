package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerAddsTickID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("component", "bridge"))

	ctx, id := NewTickContext(context.Background())
	log.Debug(ctx, "processed snapshot", Int("edges", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "processed snapshot" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["tick_id"] != id || id == "" {
		t.Fatalf("tick_id = %v, want %q", entry["tick_id"], id)
	}
	if entry["component"] != "bridge" || entry["edges"] != float64(3) {
		t.Fatalf("fields = %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q, want only the warning", out)
	}
}

func TestFromContext(t *testing.T) {
	fallback := Noop()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("FromContext without logger did not return fallback")
	}

	var buf bytes.Buffer
	stored := New(Config{Output: &buf})
	ctx := ContextWithLogger(context.Background(), stored)
	FromContext(ctx, fallback).Info(ctx, "from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("stored logger not used: %q", buf.String())
	}
	if TickIDFromContext(ctx) != "" {
		t.Fatalf("unexpected tick id on plain context")
	}
}
