package stepper_test

import (
	"testing"

	"github.com/hyourindev/agim/internal/stepper"
	"github.com/hyourindev/agim/internal/value"
)

type fakeHost struct {
	sent       []value.Value
	sendErr    error
	recvStatus stepper.ReceiveStatus
	recvValue  value.Value
	spawnedPID uint64
	exitCode   int
	exitReason string
	pending    bool
}

func (f *fakeHost) PID() uint64 { return 1 }

func (f *fakeHost) Send(targetPID uint64, payload value.Value) error {
	f.sent = append(f.sent, payload)
	return f.sendErr
}

func (f *fakeHost) Receive(match func(value.Value) bool, timeoutMs uint64) (value.Value, stepper.ReceiveStatus) {
	return f.recvValue, f.recvStatus
}

func (f *fakeHost) Spawn(p *stepper.Program) (uint64, error) { return f.spawnedPID, nil }
func (f *fakeHost) Sleep(ms uint64)                          {}
func (f *fakeHost) Exit(code int, reason string)             { f.exitCode = code; f.exitReason = reason }
func (f *fakeHost) PendingUpgrade() bool                     { return f.pending }

func TestScriptRunsSendThenExit(t *testing.T) {
	h := &fakeHost{}
	prog := &stepper.Program{
		Entry: []stepper.Instruction{
			{Op: stepper.OpSend, TargetPID: 2, Value: value.Int(42)},
			{Op: stepper.OpExit, Code: 0, Reason: "normal"},
		},
	}
	s := stepper.NewScript(h, prog)
	res, consumed, err := s.Step(10)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != stepper.ResultOK {
		t.Fatalf("expected ResultOK, got %v", res)
	}
	if consumed != 2 {
		t.Fatalf("expected 2 reductions consumed out of a 10 budget, got %d", consumed)
	}
	if len(h.sent) != 1 || h.sent[0].AsInt() != 42 {
		t.Fatalf("expected one send of 42, got %+v", h.sent)
	}
}

func TestScriptYieldsWhenReductionsExhausted(t *testing.T) {
	h := &fakeHost{}
	prog := &stepper.Program{
		Entry: []stepper.Instruction{
			{Op: stepper.OpSend, TargetPID: 2, Value: value.Int(1)},
			{Op: stepper.OpSend, TargetPID: 2, Value: value.Int(2)},
			{Op: stepper.OpSend, TargetPID: 2, Value: value.Int(3)},
		},
	}
	s := stepper.NewScript(h, prog)
	res, consumed, err := s.Step(2)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != stepper.ResultYield {
		t.Fatalf("expected ResultYield, got %v", res)
	}
	if consumed != 2 {
		t.Fatalf("expected the full 2-reduction budget consumed on a yield, got %d", consumed)
	}
	if len(h.sent) != 2 {
		t.Fatalf("expected exactly 2 reductions spent, got %d sends", len(h.sent))
	}

	res, consumed, err = s.Step(10)
	if err != nil {
		t.Fatalf("resumed step: %v", err)
	}
	if res != stepper.ResultHalt {
		t.Fatalf("expected ResultHalt after running out of instructions, got %v", res)
	}
	if consumed != 1 {
		t.Fatalf("expected only 1 reduction consumed out of a 10 budget before halting, got %d", consumed)
	}
	if len(h.sent) != 3 {
		t.Fatalf("expected the resumed step to finish the third send, got %d", len(h.sent))
	}
}

func TestScriptSuspendsOnReceiveWithNoMatch(t *testing.T) {
	h := &fakeHost{recvStatus: stepper.ReceiveSuspend}
	prog := &stepper.Program{
		Entry: []stepper.Instruction{
			{Op: stepper.OpReceive, TimeoutMs: 1000},
		},
	}
	s := stepper.NewScript(h, prog)
	res, consumed, err := s.Step(5)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != stepper.ResultWaiting {
		t.Fatalf("expected ResultWaiting, got %v", res)
	}
	if consumed != 1 {
		t.Fatalf("expected 1 reduction consumed before suspending, got %d", consumed)
	}
}

func TestScriptReceiveTimeoutZeroContinuesImmediately(t *testing.T) {
	h := &fakeHost{recvStatus: stepper.ReceiveTimeout}
	prog := &stepper.Program{
		Entry: []stepper.Instruction{
			{Op: stepper.OpReceive, TimeoutMs: 0},
			{Op: stepper.OpHalt},
		},
	}
	s := stepper.NewScript(h, prog)
	res, consumed, err := s.Step(5)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != stepper.ResultHalt {
		t.Fatalf("expected the program to proceed past the timed-out receive to HALT, got %v", res)
	}
	if consumed != 2 {
		t.Fatalf("expected both the timed-out receive and the halt to count as consumed, got %d", consumed)
	}
}

func TestScriptYieldsOnPendingUpgradeCheckpoint(t *testing.T) {
	h := &fakeHost{pending: true}
	prog := &stepper.Program{
		Entry: []stepper.Instruction{
			{Op: stepper.OpCheckUpgrade},
			{Op: stepper.OpHalt},
		},
	}
	s := stepper.NewScript(h, prog)
	res, consumed, err := s.Step(5)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res != stepper.ResultYield {
		t.Fatalf("expected ResultYield at a pending-upgrade checkpoint, got %v", res)
	}
	if consumed != 1 {
		t.Fatalf("expected 1 reduction consumed at the upgrade checkpoint, got %d", consumed)
	}
}
