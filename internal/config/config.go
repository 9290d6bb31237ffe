// Package config loads Agim's TOML-backed runtime configuration:
// scheduler tuning, timer wheel sizing, distribution node identity, and
// checkpoint storage (spec §4.5/§4.2/§4.9/§4.8's respective
// "configuration" mentions, gathered into one file the way the
// grounding supervisor example gathers its services under one
// `services.toml`).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/dist"
	"github.com/hyourindev/agim/internal/mailbox"
	"github.com/hyourindev/agim/internal/scheduler"
)

// DefaultPath is where the CLI looks for a config file when none is
// given explicitly.
const DefaultPath = "./agim.toml"

// SchedulerCfg tunes the worker pool (spec §4.5).
type SchedulerCfg struct {
	WorkerCount            int `toml:"worker_count"`
	DefaultReductionBudget int `toml:"default_reduction_budget"`
	MaxBlocks              int `toml:"max_blocks"`
}

// TimerWheelCfg tunes the suspension-timeout wheel (spec §4.2).
type TimerWheelCfg struct {
	WheelSize int    `toml:"wheel_size"`
	TickMs    uint64 `toml:"tick_ms"`
}

// MailboxCfg sets the default per-block mailbox limits new blocks get
// when a program doesn't request its own (spec §4.1).
type MailboxCfg struct {
	MaxCount uint64 `toml:"max_count"`
	MaxBytes uint64 `toml:"max_bytes"`
	Policy   string `toml:"policy"` // "drop_new" | "drop_old" | "block_sender" | "crash_receiver"
}

// NodeCfg names this runtime instance for distribution (spec §4.9).
type NodeCfg struct {
	Name   string `toml:"name"`
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Cookie uint64 `toml:"cookie"`
}

// CheckpointCfg points at on-disk checkpoint storage (spec §4.8).
type CheckpointCfg struct {
	Directory string `toml:"directory"`
	Retention int    `toml:"retention"`
}

// Config is the root of `agim.toml`.
type Config struct {
	Scheduler  SchedulerCfg  `toml:"scheduler"`
	TimerWheel TimerWheelCfg `toml:"timer_wheel"`
	Mailbox    MailboxCfg    `toml:"mailbox"`
	Node       NodeCfg       `toml:"node"`
	Checkpoint CheckpointCfg `toml:"checkpoint"`
}

// defaults mirrors internal/scheduler's own New()/New-time fallbacks
// (worker count 1, reduction budget 1000) so a config file can omit a
// section entirely and still produce a runnable configuration.
func defaults() Config {
	return Config{
		Scheduler:  SchedulerCfg{WorkerCount: 1, DefaultReductionBudget: 1000},
		TimerWheel: TimerWheelCfg{WheelSize: 256, TickMs: 10},
		Mailbox:    MailboxCfg{MaxCount: 10000, Policy: "drop_new"},
		Checkpoint: CheckpointCfg{Directory: "./checkpoints", Retention: 5},
	}
}

// Load reads and parses path, overlaying it onto defaults() — any
// section the file omits keeps its default. A missing or malformed file
// is reported directly to the caller; this package never guesses at
// partial content the way toml.Decode's own zero-value semantics would.
func Load(path string) (Config, error) {
	cfg := defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except a missing file is not an error: it
// returns defaults() unchanged. `agim run` uses this for its --config
// flag, since spec.md §6 names `./agim.toml` as a default, not a
// requirement — the CLI must run with sane defaults when no config file
// exists at all.
func LoadOptional(path string) (Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return defaults(), nil
	}
	return Load(path)
}

// SchedulerConfig translates this file's [scheduler]/[timer_wheel]
// sections into scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		WorkerCount:            c.Scheduler.WorkerCount,
		DefaultReductionBudget: c.Scheduler.DefaultReductionBudget,
		MaxBlocks:              c.Scheduler.MaxBlocks,
		WheelSize:              c.TimerWheel.WheelSize,
		TickMs:                 c.TimerWheel.TickMs,
	}
}

// MailboxLimits translates [mailbox] into mailbox.Limits, rejecting an
// unrecognized policy name outright rather than silently falling back to
// DropNew — a typo in a config file should fail loudly, not change
// behavior quietly.
func (c Config) MailboxLimits() (mailbox.Limits, error) {
	var policy mailbox.OverflowPolicy
	switch c.Mailbox.Policy {
	case "", "drop_new":
		policy = mailbox.DropNew
	case "drop_old":
		policy = mailbox.DropOld
	case "block_sender":
		policy = mailbox.BlockSender
	case "crash_receiver":
		policy = mailbox.CrashReceiver
	default:
		return mailbox.Limits{}, fmt.Errorf("config: unknown mailbox policy %q", c.Mailbox.Policy)
	}
	return mailbox.Limits{
		MaxCount: c.Mailbox.MaxCount,
		MaxBytes: c.Mailbox.MaxBytes,
		Policy:   policy,
	}, nil
}

// Limits bundles MailboxLimits into a block.Limits with otherwise
// zero-valued (unbounded) resource caps, since spec.md's [scheduler]
// config surface only names worker_count/default_reduction_budget/
// max_blocks — per-block heap/stack/call-depth caps are a program-level
// concern (stepper.Program's own compiled limits), not a global default.
func (c Config) Limits() (block.Limits, error) {
	mb, err := c.MailboxLimits()
	if err != nil {
		return block.Limits{}, err
	}
	return block.Limits{MaxMailbox: mb}, nil
}

// DistConfig translates [node] into dist.Config.
func (c Config) DistConfig() dist.Config {
	return dist.Config{
		Name:   c.Node.Name,
		Host:   c.Node.Host,
		Port:   c.Node.Port,
		Cookie: c.Node.Cookie,
	}
}
