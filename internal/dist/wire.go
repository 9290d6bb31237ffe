// Package dist implements spec §4.9's distribution transport: one
// persistent TCP connection per peer node, a version+cookie handshake,
// and a small set of framed messages (HEARTBEAT, SEND, LINK, UNLINK,
// EXIT, MONITOR, DEMONITOR, DOWN). It hands delivered SEND payloads and
// node up/down events to caller-supplied callbacks rather than reaching
// into internal/scheduler directly, so this package stays usable without
// pulling in the whole runtime (spec.md §8 scenario 8 drives a peer with
// nothing but a callback).
package dist

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ProtocolVersion is the handshake version this build speaks (spec §6
// "protocol version currently 1").
const ProtocolVersion uint8 = 1

// MaxFrameBytes caps a single frame's body to prevent a malicious or
// buggy peer from exhausting memory with a bogus length field (spec
// §4.9's "length is capped at 16 MiB").
const MaxFrameBytes = 16 << 20

// MsgType discriminates a frame's body layout.
type MsgType uint8

const (
	MsgHandshake MsgType = iota
	MsgHeartbeat
	MsgSend
	MsgLink
	MsgUnlink
	MsgExit
	MsgMonitor
	MsgDemonitor
	MsgDown
)

var (
	// ErrFrameTooLarge is returned when a frame's declared length exceeds
	// MaxFrameBytes.
	ErrFrameTooLarge = errors.New("dist: frame exceeds max size")
	// ErrShortSendBody is returned when a SEND frame's length is too
	// small to even hold its two PID fields (spec §4.9's "under-sized
	// SEND bodies are rejected").
	ErrShortSendBody = errors.New("dist: SEND frame shorter than two PIDs")
	// ErrBadCookie is returned by a handshake whose cookie doesn't match
	// this node's configured cookie.
	ErrBadCookie = errors.New("dist: cookie mismatch")
	// ErrBadVersion is returned by a handshake at an unsupported protocol
	// version.
	ErrBadVersion = errors.New("dist: protocol version mismatch")
	// ErrUnknownMsgType is returned by readFrame on a type byte this
	// build doesn't recognize.
	ErrUnknownMsgType = errors.New("dist: unknown message type")
)

// Frame is one decoded wire message: its type byte and its raw body bytes
// (the length field is consumed by readFrame and not kept; the body is
// kept raw here so writeFrame/readFrame don't need to know every
// message's internal shape — see the encode/decode helpers below).
type Frame struct {
	Type MsgType
	Body []byte
}

// writeFrame writes TYPE(u8) LENGTH(u32-BE) BODY(LENGTH bytes) — the
// framing spec §4.9's per-message field lists imply but don't spell out
// explicitly (SEND's "payload_bytes[length-16]" only makes sense once a
// length field exists to subtract the fixed PID fields from; this is
// that field, applied uniformly to every message type instead of just
// SEND). Documented as an Open Question decision in DESIGN.md.
func writeFrame(w *bufio.Writer, typ MsgType, body []byte) error {
	if len(body) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	if err := w.WriteByte(byte(typ)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one frame from r.
func readFrame(r io.Reader) (Frame, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	typ := MsgType(header[0])
	if typ > MsgDown {
		return Frame{}, ErrUnknownMsgType
	}
	length := binary.BigEndian.Uint32(header[1:5])
	if length > MaxFrameBytes {
		return Frame{}, ErrFrameTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Body: body}, nil
}

// Handshake is HANDSHAKE's body: version(u8) cookie(u64-BE)
// name_len(u8) name[name_len].
type Handshake struct {
	Version uint8
	Cookie  uint64
	Name    string
}

func encodeHandshake(h Handshake) []byte {
	nameBytes := []byte(h.Name)
	body := make([]byte, 0, 1+8+1+len(nameBytes))
	body = append(body, h.Version)
	var cookieBuf [8]byte
	binary.BigEndian.PutUint64(cookieBuf[:], h.Cookie)
	body = append(body, cookieBuf[:]...)
	body = append(body, byte(len(nameBytes)))
	body = append(body, nameBytes...)
	return body
}

func decodeHandshake(body []byte) (Handshake, error) {
	if len(body) < 10 {
		return Handshake{}, fmt.Errorf("dist: handshake body too short: %d bytes", len(body))
	}
	version := body[0]
	cookie := binary.BigEndian.Uint64(body[1:9])
	nameLen := int(body[9])
	if len(body) < 10+nameLen {
		return Handshake{}, fmt.Errorf("dist: handshake name truncated")
	}
	name := string(body[10 : 10+nameLen])
	return Handshake{Version: version, Cookie: cookie, Name: name}, nil
}

// SendMsg is SEND's body: target_pid(u64-BE) sender_pid(u64-BE)
// payload(remaining bytes, already TLV-encoded by internal/tlv).
type SendMsg struct {
	TargetPID uint64
	SenderPID uint64
	Payload   []byte
}

func encodeSend(m SendMsg) []byte {
	body := make([]byte, 16+len(m.Payload))
	binary.BigEndian.PutUint64(body[0:8], m.TargetPID)
	binary.BigEndian.PutUint64(body[8:16], m.SenderPID)
	copy(body[16:], m.Payload)
	return body
}

func decodeSend(body []byte) (SendMsg, error) {
	if len(body) < 16 {
		return SendMsg{}, ErrShortSendBody
	}
	return SendMsg{
		TargetPID: binary.BigEndian.Uint64(body[0:8]),
		SenderPID: binary.BigEndian.Uint64(body[8:16]),
		Payload:   body[16:],
	}, nil
}

// LinkMsg is LINK/UNLINK/MONITOR/DEMONITOR's shared body layout, fixed
// here as a supplement to spec.md §4.9's "reserved; body conventions
// follow SEND" (SPEC_FULL.md §4.9 commits to this exact shape).
type LinkMsg struct {
	TargetPID    uint64
	RequesterPID uint64
}

func encodeLink(m LinkMsg) []byte {
	body := make([]byte, 16)
	binary.BigEndian.PutUint64(body[0:8], m.TargetPID)
	binary.BigEndian.PutUint64(body[8:16], m.RequesterPID)
	return body
}

func decodeLink(body []byte) (LinkMsg, error) {
	if len(body) < 16 {
		return LinkMsg{}, fmt.Errorf("dist: link-family frame shorter than two PIDs")
	}
	return LinkMsg{
		TargetPID:    binary.BigEndian.Uint64(body[0:8]),
		RequesterPID: binary.BigEndian.Uint64(body[8:16]),
	}, nil
}

// ExitMsg is EXIT/DOWN's shared body layout: from_pid(u64-BE)
// reason_len(u16-BE) reason[reason_len].
type ExitMsg struct {
	FromPID uint64
	Reason  string
}

func encodeExit(m ExitMsg) []byte {
	reasonBytes := []byte(m.Reason)
	body := make([]byte, 0, 8+2+len(reasonBytes))
	var pidBuf [8]byte
	binary.BigEndian.PutUint64(pidBuf[:], m.FromPID)
	body = append(body, pidBuf[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(reasonBytes)))
	body = append(body, lenBuf[:]...)
	body = append(body, reasonBytes...)
	return body
}

func decodeExit(body []byte) (ExitMsg, error) {
	if len(body) < 10 {
		return ExitMsg{}, fmt.Errorf("dist: exit/down frame too short")
	}
	fromPID := binary.BigEndian.Uint64(body[0:8])
	reasonLen := int(binary.BigEndian.Uint16(body[8:10]))
	if len(body) < 10+reasonLen {
		return ExitMsg{}, fmt.Errorf("dist: exit/down reason truncated")
	}
	return ExitMsg{FromPID: fromPID, Reason: string(body[10 : 10+reasonLen])}, nil
}
