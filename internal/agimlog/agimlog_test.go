package agimlog_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/hyourindev/agim/internal/agimlog"
)

func TestNewTextFormatWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := agimlog.New(agimlog.Options{Level: slog.LevelInfo, Format: agimlog.FormatText, Output: &buf})

	logger.Info("spawned", "pid", uint64(7))

	out := buf.String()
	if !strings.Contains(out, "spawned") || !strings.Contains(out, "pid=7") {
		t.Fatalf("expected text-formatted record with pid attribute, got %q", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := agimlog.New(agimlog.Options{Format: agimlog.FormatJSON, Output: &buf})

	logger.Info("spawned")

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected JSON-formatted record, got %q", out)
	}
}

func TestForBlockAttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := agimlog.New(agimlog.Options{Format: agimlog.FormatJSON, Output: &buf})
	scoped := agimlog.ForBlock(base, 42, "worker-1", "echo")

	scoped.Info("received")

	out := buf.String()
	for _, want := range []string{`"pid":42`, `"block":"worker-1"`, `"module":"echo"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected record to contain %s, got %q", want, out)
		}
	}
}

func TestForNodeAttachesNodeAttribute(t *testing.T) {
	var buf bytes.Buffer
	base := agimlog.New(agimlog.Options{Format: agimlog.FormatJSON, Output: &buf})
	scoped := agimlog.ForNode(base, "node-a")

	scoped.Info("peer connected")

	if !strings.Contains(buf.String(), `"node":"node-a"`) {
		t.Fatalf("expected record to contain node attribute, got %q", buf.String())
	}
}

func TestDiscardProducesNoOutput(t *testing.T) {
	// Discard writes to io.Discard; this just confirms it doesn't panic
	// and is usable as a drop-in logger.
	agimlog.Discard.Info("should vanish")
}
