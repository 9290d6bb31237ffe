// Command agim is the Agim runtime CLI: loads a script program, either
// disassembles it, lists the capability ("tool") schema, or drives the
// scheduler to completion, matching the flags and exit-code convention
// of the pack's own CLI example binary (ja7ad-consumption/cmd/consumption).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyourindev/agim/internal/agimlog"
	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/checkpoint"
	"github.com/hyourindev/agim/internal/config"
	"github.com/hyourindev/agim/internal/modreg"
	"github.com/hyourindev/agim/internal/node"
	"github.com/hyourindev/agim/internal/scheduler"
	"github.com/hyourindev/agim/internal/stepper"
)

// version is the CLI's own release tag, separate from the wire/checkpoint
// format versions in internal/dist and internal/checkpoint.
const version = "0.1.0"

// capabilitySchema is the closest in-scope stand-in for the tool
// registry `spec.md` §1 explicitly puts out of scope ("the core treats
// these as opaque capabilities"): -t/--tools lists the capability bits
// the runtime actually understands, since there is no tool registry
// underneath them to introspect.
var capabilitySchema = []struct {
	name string
	cap  block.Capability
	desc string
}{
	{"spawn", block.CapSpawn, "create new blocks"},
	{"send", block.CapSend, "send messages to other blocks"},
	{"infer", block.CapInfer, "invoke the (out-of-scope) LLM inference hook"},
	{"shell", block.CapShell, "invoke the (out-of-scope) shell/process hook"},
	{"fs", block.CapFS, "invoke the (out-of-scope) filesystem hook"},
	{"http", block.CapHTTP, "invoke the (out-of-scope) HTTP hook"},
	{"trap_exit", block.CapTrapExit, "receive EXIT signals as messages instead of propagating them"},
}

type runOpts struct {
	workers       int
	configPath    string
	checkpointDir string
	disasm        bool
	tools         bool
	showVersion   bool
}

func main() {
	var o runOpts

	root := &cobra.Command{
		Use:   "agim <program-path>",
		Short: "Run Agim actor-runtime scripts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o, args)
		},
	}

	root.Flags().BoolVarP(&o.disasm, "disasm", "d", false, "print the program's disassembly and exit")
	root.Flags().BoolVarP(&o.tools, "tools", "t", false, "list capability schemas and exit")
	root.Flags().BoolVarP(&o.showVersion, "version", "v", false, "print the version and exit")
	root.Flags().IntVar(&o.workers, "workers", 0, "worker count (0 = value from --config, or 1)")
	root.Flags().StringVar(&o.configPath, "config", config.DefaultPath, "path to agim.toml")
	root.Flags().StringVar(&o.checkpointDir, "checkpoint-dir", "", "checkpoint storage directory (overrides config)")
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agim: runtime error: %s\n", err)
		os.Exit(1)
	}
}

func run(o runOpts, args []string) error {
	if o.showVersion {
		fmt.Printf("agim %s\n", version)
		return nil
	}

	if o.tools {
		printTools()
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("a program path is required (use -t/--tools or -v/--version without one)")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	prog, err := stepper.ParseScript(f)
	if err != nil {
		return err
	}

	if o.disasm {
		fmt.Print(stepper.Disassemble(prog))
		return nil
	}

	cfg, err := config.LoadOptional(o.configPath)
	if err != nil {
		return err
	}
	schedCfg := cfg.SchedulerConfig()
	if o.workers > 0 {
		schedCfg.WorkerCount = o.workers
	}
	checkpointDir := cfg.Checkpoint.Directory
	if o.checkpointDir != "" {
		checkpointDir = o.checkpointDir
	}
	ckptMgr, err := checkpoint.NewManager(checkpointDir, cfg.Checkpoint.Retention)
	if err != nil {
		return err
	}

	logger := agimlog.New(agimlog.Options{Level: slog.LevelInfo, Format: agimlog.FormatText})

	limits, err := cfg.Limits()
	if err != nil {
		return err
	}

	reg := modreg.New()
	sched := scheduler.New(schedCfg, func(host stepper.Host, p *stepper.Program) stepper.Stepper {
		return stepper.NewScript(host, p)
	})
	sched.SetModuleRegistry(reg)
	sched.Start()
	defer sched.Stop()

	// A [node] section with a name turns this run into a distribution
	// peer: other nodes can SEND to PIDs spawned here (spec §4.9/§8
	// scenario 8). Without one, agim stays single-node — dialing other
	// peers isn't exposed by this script-driven CLI, only inbound SEND.
	if cfg.Node.Name != "" {
		n := node.New(cfg.DistConfig(), sched.PIDTable(), logger)
		if err := n.Listen(); err != nil {
			return fmt.Errorf("dist listen: %w", err)
		}
		defer n.Stop()
		logger.Info("listening for peers", "node", cfg.Node.Name, "addr", cfg.DistConfig().Addr())
	}

	pid, err := sched.Spawn(prog, prog.ModuleName, limits)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", prog.ModuleName, err)
	}
	logger.Info("spawned", "pid", pid, "module", prog.ModuleName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b, ok := sched.PIDTable().Get(pid)
		if !ok {
			return fmt.Errorf("interrupted, but block %d vanished before it could be checkpointed", pid)
		}
		data, capErr := checkpoint.Capture("interrupt", b)
		if capErr != nil {
			return fmt.Errorf("checkpoint on interrupt: %w", capErr)
		}
		id, saveErr := ckptMgr.Save(b.Name, "", data)
		if saveErr != nil {
			return fmt.Errorf("save checkpoint on interrupt: %w", saveErr)
		}
		logger.Info("interrupted, checkpointed", "pid", pid, "checkpoint_id", id)
		return nil
	}

	b, ok := sched.PIDTable().Get(pid)
	if !ok {
		return fmt.Errorf("block %d vanished before it could be inspected", pid)
	}
	code, reason := b.ExitSlot()
	logger.Info("halted", "pid", pid, "exit_code", code, "reason", reason)
	if reason != "" && reason != block.ReasonNormal {
		return fmt.Errorf("block %s exited %s", prog.ModuleName, reason)
	}
	return nil
}

func printTools() {
	fmt.Println("capability   bit  description")
	for _, t := range capabilitySchema {
		fmt.Printf("%-12s %#04x  %s\n", t.name, uint64(t.cap), t.desc)
	}
}
