package scheduler_test

import (
	"testing"
	"time"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/scheduler"
	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

func newTestScheduler(workers int) *scheduler.Scheduler {
	cfg := scheduler.Config{
		WorkerCount:            workers,
		DefaultReductionBudget: 100,
		WheelSize:              64,
		TickMs:                 5,
	}
	return scheduler.New(cfg, func(host stepper.Host, prog *stepper.Program) stepper.Stepper {
		return stepper.NewScript(host, prog)
	})
}

func waitForTermination(t *testing.T, s *scheduler.Scheduler) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("scheduler never reached termination predicate: %+v", s.Counters())
		case <-tick.C:
			if s.Terminated() {
				return
			}
		}
	}
}

func TestSingleBlockHaltsAndTerminates(t *testing.T) {
	s := newTestScheduler(2)
	s.Start()
	defer s.Stop()

	prog := &stepper.Program{
		ModuleName: "halt_only",
		Entry:      []stepper.Instruction{{Op: stepper.OpHalt}},
	}
	_, err := s.Spawn(prog, "lonely", block.Limits{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitForTermination(t, s)
	c := s.Counters()
	if c.TotalSpawned != 1 || c.TotalTerminated != 1 {
		t.Fatalf("expected 1 spawned and 1 terminated, got %+v", c)
	}
}

// pingPongMatch checks a ping/pong envelope's "msg" field — a map of
// {msg: "ping"|"pong", from: <sender PID>}, the literal ping/pong
// payloads spec.md §8 scenario 1 names, with the sender's PID carried
// alongside so the reply can be addressed back without the flat Script
// instruction format needing a dynamic send target.
func pingPongMatch(want string) func(value.Value) bool {
	return func(v value.Value) bool {
		if v.Kind() != value.KindMap {
			return false
		}
		msg, ok := v.AsMap().Get("msg")
		return ok && msg.Kind() == value.KindString && msg.AsString() == want
	}
}

// pongReplyStepper is a hand-rolled stepper.Stepper, the same pattern
// internal/supervisor's Supervisor and monitor_test.go's downProbe use:
// the flat Script instruction set has no way to address OpSend at a PID
// only known at runtime (Instruction.TargetPID is fixed when the
// instruction is built), and replying to whoever sent a message is
// exactly that.
type pongReplyStepper struct {
	host    stepper.Host
	globals map[string]value.Value
	replied bool
}

func (p *pongReplyStepper) Step(reductions int) (stepper.Result, int, error) {
	if p.replied {
		return stepper.ResultHalt, 0, nil
	}
	payload, status := p.host.Receive(pingPongMatch("ping"), scheduler.InfiniteTimeout)
	switch status {
	case stepper.ReceiveSuspend:
		return stepper.ResultWaiting, 1, nil
	case stepper.ReceiveMatched:
		from, _ := payload.AsMap().Get("from")
		reply := value.MapVal(value.NewMap(map[string]value.Value{
			"msg": value.String("pong"),
		}))
		if err := p.host.Send(from.AsPID(), reply); err != nil {
			return stepper.ResultError, 1, err
		}
		p.replied = true
		return stepper.ResultHalt, 1, nil
	default:
		return stepper.ResultYield, 1, nil
	}
}

func (p *pongReplyStepper) State() map[string]value.Value     { return p.globals }
func (p *pongReplyStepper) SetState(m map[string]value.Value) { p.globals = m }

// TestPingPongExchangesMessages implements spec.md §8 scenario 1
// literally: ping sends {msg: "ping", from: ping's PID} to pong, pong
// replies {msg: "pong"} to that PID, and ping receives the reply within
// a bounded 100ms timeout. Both blocks' messages_sent/messages_received
// counters confirm the round trip actually happened rather than each
// side merely halting on its own.
func TestPingPongExchangesMessages(t *testing.T) {
	s := newTestScheduler(2)

	pongPID, err := s.SpawnCustom("pong", 0, block.Limits{}, "pong", func(host stepper.Host) stepper.Stepper {
		return &pongReplyStepper{host: host, globals: map[string]value.Value{}}
	})
	if err != nil {
		t.Fatalf("spawn pong: %v", err)
	}
	// retire() drops a block's PID table entry the instant it terminates,
	// so grab both *block.Block references now — the struct itself
	// outlives deregistration, only the lookup by PID stops working.
	pongBlock, ok := s.PIDTable().Get(pongPID)
	if !ok {
		t.Fatalf("pong PID not registered right after spawn")
	}

	// ping's first instruction needs its own PID before it can build the
	// envelope pong replies to, and Spawn only returns a PID after
	// allocating the program — so spawn suspended, patch the literal
	// value in place, then enqueue. The block can't run until Enqueue,
	// so there's no race with a worker reading the instruction first.
	pingProg := &stepper.Program{
		ModuleName: "ping",
		Entry: []stepper.Instruction{
			{Op: stepper.OpSend, TargetPID: pongPID},
			{Op: stepper.OpReceive, Match: pingPongMatch("pong"), TimeoutMs: 100},
			{Op: stepper.OpHalt},
		},
	}
	pingPID, err := s.SpawnSuspended(pingProg, "ping", 0, block.Limits{})
	if err != nil {
		t.Fatalf("spawn ping: %v", err)
	}
	pingBlock, ok := s.PIDTable().Get(pingPID)
	if !ok {
		t.Fatalf("ping PID not registered right after spawn")
	}
	pingProg.Entry[0].Value = value.MapVal(value.NewMap(map[string]value.Value{
		"msg":  value.String("ping"),
		"from": value.PID(pingPID),
	}))

	s.Start()
	defer s.Stop()
	if !s.Enqueue(pingPID) {
		t.Fatalf("enqueue ping: pid not registered")
	}

	waitForTermination(t, s)
	c := s.Counters()
	if c.TotalSpawned != 2 || c.TotalTerminated != 2 {
		t.Fatalf("expected both blocks to terminate, got %+v", c)
	}

	pingSnap := pingBlock.Counter.Snapshot()
	pongSnap := pongBlock.Counter.Snapshot()
	if pingSnap.MessagesSent != 1 {
		t.Fatalf("expected ping to send exactly 1 message, got %d", pingSnap.MessagesSent)
	}
	if pongSnap.MessagesSent != 1 {
		t.Fatalf("expected pong to send exactly 1 reply, got %d", pongSnap.MessagesSent)
	}
	if total := pingSnap.MessagesSent + pongSnap.MessagesSent; total != 2 {
		t.Fatalf("expected messages_sent == 2 across the exchange, got %d", total)
	}
	if pingSnap.MessagesReceived != 1 {
		t.Fatalf("expected ping to receive pong's reply, got %d messages received", pingSnap.MessagesReceived)
	}
	if pongSnap.MessagesReceived != 1 {
		t.Fatalf("expected pong to receive ping's message, got %d messages received", pongSnap.MessagesReceived)
	}
}

func TestReceiveTimeoutResumesBlock(t *testing.T) {
	s := newTestScheduler(1)
	s.Start()
	defer s.Stop()

	prog := &stepper.Program{
		ModuleName: "sleepy",
		Entry: []stepper.Instruction{
			{Op: stepper.OpReceive, TimeoutMs: 20},
			{Op: stepper.OpHalt},
		},
	}
	if _, err := s.Spawn(prog, "sleepy", block.Limits{}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitForTermination(t, s)
}

func TestLinkedBlockCrashPropagatesExit(t *testing.T) {
	s := newTestScheduler(1)
	// Spawn and link before Start so the link is guaranteed to exist
	// before either block gets a chance to run.
	defer s.Stop()

	victimProg := &stepper.Program{
		ModuleName: "victim",
		Entry: []stepper.Instruction{
			{Op: stepper.OpReceive, TimeoutMs: scheduler.InfiniteTimeout},
			{Op: stepper.OpHalt},
		},
	}
	victimPID, err := s.Spawn(victimProg, "victim", block.Limits{})
	if err != nil {
		t.Fatalf("spawn victim: %v", err)
	}

	crasherProg := &stepper.Program{
		ModuleName: "crasher",
		Entry: []stepper.Instruction{
			{Op: stepper.OpExit, Code: 1, Reason: block.ReasonCrash},
		},
	}
	crasherPID, err := s.Spawn(crasherProg, "crasher", block.Limits{})
	if err != nil {
		t.Fatalf("spawn crasher: %v", err)
	}

	victim, _ := s.PIDTable().Get(victimPID)
	crasher, _ := s.PIDTable().Get(crasherPID)
	block.Link(crasher, victim)

	s.Start()
	waitForTermination(t, s)

	if !victim.IsDead() {
		t.Fatalf("expected victim to die via link propagation")
	}
	_, reason := victim.ExitSlot()
	if reason != block.ReasonCrash {
		t.Fatalf("expected propagated reason %q, got %q", block.ReasonCrash, reason)
	}
}
