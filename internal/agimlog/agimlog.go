// Package agimlog provides the runtime's structured logger: a thin
// wrapper around log/slog that attaches a consistent set of
// block/node-scoped attributes (pid, module, node) so every component —
// scheduler, supervisor, dist, checkpoint — logs through the same
// handler and format.
package agimlog

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the on-disk/terminal encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	Level  slog.Level
	Format Format
	Output io.Writer // defaults to os.Stderr
}

// New builds a *slog.Logger per opts. A zero Options value produces a
// text logger at Info level writing to stderr — Agim's default the way
// an unconfigured `agim run` is expected to behave.
func New(opts Options) *slog.Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, handlerOpts)
	default:
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(h)
}

// ForBlock returns a logger scoped to one block, carrying pid/name/
// module attributes on every record it emits.
func ForBlock(base *slog.Logger, pid uint64, name, module string) *slog.Logger {
	return base.With("pid", pid, "block", name, "module", module)
}

// ForNode returns a logger scoped to one distribution node.
func ForNode(base *slog.Logger, nodeName string) *slog.Logger {
	return base.With("node", nodeName)
}

// Discard is a logger that drops every record — used by components in
// tests that don't want log output cluttering `go test -v`.
var Discard = slog.New(slog.NewTextHandler(io.Discard, nil))
