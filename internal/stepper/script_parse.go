package stepper

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hyourindev/agim/internal/value"
)

// ParseScript reads a line-oriented script program, one instruction per
// non-blank, non-comment line, and returns the compiled *Program. This
// stands in for the out-of-scope bytecode compiler: it's just enough of
// a front end for cmd/agim's program loading and `--disasm` flag to have something
// real to load, using the same OpSend/OpReceive/... vocabulary the
// reference Script stepper already executes.
//
// Grammar (whitespace-separated fields per line):
//
//	module <name> <version>
//	send <target-pid> <value>
//	receive [timeout-ms]
//	sleep <ms>
//	exit <code> [reason...]   (reason defaults to "normal")
//	halt
//	checkupgrade
//
// <value> is an int, a float, `true`/`false`, `nil`, or a double-quoted
// string. `spawn` has no textual form here: a spawned sub-program has no
// way to reference another compiled unit from within this format, so
// scripts that need to spawn do it by calling NewScript/Program directly
// from Go (as the test suite does), not via ParseScript.
func ParseScript(r io.Reader) (*Program, error) {
	prog := &Program{Version: 1}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitFields(line)
		if err != nil {
			return nil, fmt.Errorf("stepper: line %d: %w", lineNo, err)
		}
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "module":
			if len(fields) < 2 {
				return nil, fmt.Errorf("stepper: line %d: module requires a name", lineNo)
			}
			prog.ModuleName = fields[1]
			if len(fields) >= 3 {
				v, err := strconv.ParseUint(fields[2], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("stepper: line %d: bad module version: %w", lineNo, err)
				}
				prog.Version = v
			}

		case "send":
			if len(fields) < 3 {
				return nil, fmt.Errorf("stepper: line %d: send requires <target-pid> <value>", lineNo)
			}
			pid, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("stepper: line %d: bad target pid: %w", lineNo, err)
			}
			val, err := parseLiteral(strings.Join(fields[2:], " "))
			if err != nil {
				return nil, fmt.Errorf("stepper: line %d: %w", lineNo, err)
			}
			prog.Entry = append(prog.Entry, Instruction{Op: OpSend, TargetPID: pid, Value: val})

		case "receive":
			var timeout uint64
			if len(fields) >= 2 {
				v, err := strconv.ParseUint(fields[1], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("stepper: line %d: bad receive timeout: %w", lineNo, err)
				}
				timeout = v
			}
			prog.Entry = append(prog.Entry, Instruction{Op: OpReceive, TimeoutMs: timeout})

		case "sleep":
			if len(fields) < 2 {
				return nil, fmt.Errorf("stepper: line %d: sleep requires <ms>", lineNo)
			}
			ms, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("stepper: line %d: bad sleep duration: %w", lineNo, err)
			}
			prog.Entry = append(prog.Entry, Instruction{Op: OpSleep, TimeoutMs: ms})

		case "exit":
			if len(fields) < 2 {
				return nil, fmt.Errorf("stepper: line %d: exit requires <code> [reason...]", lineNo)
			}
			code, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("stepper: line %d: bad exit code: %w", lineNo, err)
			}
			reason := "normal"
			if len(fields) > 2 {
				reason = strings.Join(fields[2:], " ")
			}
			prog.Entry = append(prog.Entry, Instruction{Op: OpExit, Code: code, Reason: reason})

		case "halt":
			prog.Entry = append(prog.Entry, Instruction{Op: OpHalt})

		case "checkupgrade":
			prog.Entry = append(prog.Entry, Instruction{Op: OpCheckUpgrade})

		default:
			return nil, fmt.Errorf("stepper: line %d: unknown instruction %q", lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("stepper: scan: %w", err)
	}
	if prog.ModuleName == "" {
		return nil, fmt.Errorf("stepper: script is missing a `module <name> <version>` line")
	}
	return prog, nil
}

// Disassemble renders prog's instruction stream in a flat, readable form
// — one line per instruction, index-prefixed — for cmd/agim's
// `-d/--disasm`.
func Disassemble(prog *Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s version %d\n", prog.ModuleName, prog.Version)
	for i, instr := range prog.Entry {
		fmt.Fprintf(&b, "%4d  %s\n", i, disasmOne(instr))
	}
	return b.String()
}

func disasmOne(instr Instruction) string {
	switch instr.Op {
	case OpSend:
		return fmt.Sprintf("send      target=%d value=%s", instr.TargetPID, instr.Value.Kind())
	case OpReceive:
		return fmt.Sprintf("receive   timeout_ms=%d", instr.TimeoutMs)
	case OpSleep:
		return fmt.Sprintf("sleep     ms=%d", instr.TimeoutMs)
	case OpSpawn:
		return "spawn     <program>"
	case OpExit:
		return fmt.Sprintf("exit      code=%d reason=%q", instr.Code, instr.Reason)
	case OpHalt:
		return "halt"
	case OpCheckUpgrade:
		return "checkupgrade"
	default:
		return "???"
	}
}

// parseLiteral decodes one of: a double-quoted string, true/false, nil,
// an integer, or a float.
func parseLiteral(tok string) (value.Value, error) {
	switch {
	case tok == "nil":
		return value.Nil(), nil
	case tok == "true":
		return value.Bool(true), nil
	case tok == "false":
		return value.Bool(false), nil
	case len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"':
		return value.String(tok[1 : len(tok)-1]), nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return value.Int(i), nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return value.Float(f), nil
	}
	return value.Value{}, fmt.Errorf("bad literal %q", tok)
}

// splitFields is a minimal whitespace tokenizer that keeps a
// double-quoted span (for string literals containing spaces) as one
// field.
func splitFields(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case (c == ' ' || c == '\t') && !inQuotes:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return fields, nil
}
