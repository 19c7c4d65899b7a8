package log

import (
	"bytes"
	"errors"
	stdlog "log"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	initLogger()
	var buf bytes.Buffer
	prev := logger
	logger = stdlog.New(&buf, "", 0)
	t.Cleanup(func() {
		logger = prev
		SetLevel("info")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)

	SetLevel("error")
	Debug("d")
	Info("i")
	Error("e", errors.New("boom"))
	out := buf.String()
	if strings.Contains(out, "[DEBUG]") || strings.Contains(out, "[INFO]") {
		t.Fatalf("filtered levels written: %q", out)
	}
	if !strings.Contains(out, "[ERROR] e err=boom") {
		t.Fatalf("error line missing: %q", out)
	}

	buf.Reset()
	SetLevel("debug")
	Debug("d", "k", "v")
	if !strings.Contains(buf.String(), "[DEBUG] d k=v") {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}

func TestKeyValueFormatting(t *testing.T) {
	buf := capture(t)

	Info("sync complete", "committed", 12, "partial", false)
	out := buf.String()
	if !strings.Contains(out, "committed=12") || !strings.Contains(out, "partial=false") {
		t.Fatalf("kv pairs missing: %q", out)
	}

	buf.Reset()
	Info("odd args", "key")
	if !strings.Contains(buf.String(), "odd args") {
		t.Fatalf("message missing: %q", buf.String())
	}
}
