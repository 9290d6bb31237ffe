package dist

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// HeartbeatInterval matches the ticker-driven polling cadence used by
// the reference CLI example this package's heartbeat loop is modeled on.
const HeartbeatInterval = 2 * time.Second

// PeerTimeout is how long without an observed heartbeat before a
// connection is declared dead and torn down.
const PeerTimeout = 3 * HeartbeatInterval

// Peer is one persistent TCP connection to another node (spec §4.9: "one
// persistent connection per peer; each connection has a dedicated
// receiver thread"). lastHeartbeat/connected follow the pooled
// connection-object pattern of atomic-timestamp plus sync.Once close
// guard observed in the registry/connect grounding file, applied here to
// a live socket instead of a pooled object.
type Peer struct {
	id       uuid.UUID
	nodeName string
	conn     net.Conn
	r        *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer

	lastHeartbeat atomic.Int64 // UnixNano
	connected     atomic.Bool
	closeOnce     sync.Once
}

func newPeer(conn net.Conn, nodeName string) *Peer {
	p := &Peer{
		id:       uuid.New(),
		nodeName: nodeName,
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
	}
	p.lastHeartbeat.Store(time.Now().UnixNano())
	p.connected.Store(true)
	return p
}

// dialHandshake is the initiator side of spec §4.9's handshake: send our
// HANDSHAKE first, then read the acceptor's reply.
func dialHandshake(conn net.Conn, cfg Config) (*Peer, error) {
	p := newPeer(conn, "")
	if err := p.send(MsgHandshake, encodeHandshake(Handshake{Version: ProtocolVersion, Cookie: cfg.Cookie, Name: cfg.Name})); err != nil {
		return nil, err
	}
	return p, p.completeHandshake(cfg)
}

// acceptHandshake is the acceptor side: read the initiator's HANDSHAKE
// first, validate it, then reply with our own.
func acceptHandshake(conn net.Conn, cfg Config) (*Peer, error) {
	p := newPeer(conn, "")
	if err := p.readAndValidateHandshake(cfg); err != nil {
		return nil, err
	}
	return p, p.send(MsgHandshake, encodeHandshake(Handshake{Version: ProtocolVersion, Cookie: cfg.Cookie, Name: cfg.Name}))
}

func (p *Peer) completeHandshake(cfg Config) error {
	return p.readAndValidateHandshake(cfg)
}

func (p *Peer) readAndValidateHandshake(cfg Config) error {
	frame, err := readFrame(p.r)
	if err != nil {
		return err
	}
	if frame.Type != MsgHandshake {
		return fmt.Errorf("dist: expected HANDSHAKE, got type %d", frame.Type)
	}
	hs, err := decodeHandshake(frame.Body)
	if err != nil {
		return err
	}
	if hs.Version != ProtocolVersion {
		return ErrBadVersion
	}
	if hs.Cookie != cfg.Cookie {
		return ErrBadCookie
	}
	p.nodeName = hs.Name
	return nil
}

func (p *Peer) send(typ MsgType, body []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := writeFrame(p.w, typ, body); err != nil {
		return err
	}
	return p.w.Flush()
}

// receiveLoop reads frames until the connection closes, dispatching each
// to cb by the remote node's handshake-learned name. Runs on its own
// goroutine per connection — spec §4.9's "dedicated receiver thread" —
// started once per Peer by the owning Manager.
func (p *Peer) receiveLoop(cb Callbacks) {
	go p.heartbeatLoop()
	for {
		frame, err := readFrame(p.r)
		if err != nil {
			p.Close()
			return
		}
		p.lastHeartbeat.Store(time.Now().UnixNano())

		switch frame.Type {
		case MsgHeartbeat:
			// timestamp bump above is the whole point; no body to act on.
		case MsgSend:
			if msg, err := decodeSend(frame.Body); err == nil && cb.OnSend != nil {
				cb.OnSend(p.nodeName, msg)
			}
		case MsgLink:
			if msg, err := decodeLink(frame.Body); err == nil && cb.OnLink != nil {
				cb.OnLink(p.nodeName, msg)
			}
		case MsgUnlink:
			if msg, err := decodeLink(frame.Body); err == nil && cb.OnUnlink != nil {
				cb.OnUnlink(p.nodeName, msg)
			}
		case MsgExit:
			if msg, err := decodeExit(frame.Body); err == nil && cb.OnExit != nil {
				cb.OnExit(p.nodeName, msg)
			}
		case MsgMonitor:
			if msg, err := decodeLink(frame.Body); err == nil && cb.OnMonitor != nil {
				cb.OnMonitor(p.nodeName, msg)
			}
		case MsgDemonitor:
			if msg, err := decodeLink(frame.Body); err == nil && cb.OnDemonitor != nil {
				cb.OnDemonitor(p.nodeName, msg)
			}
		case MsgDown:
			if msg, err := decodeExit(frame.Body); err == nil && cb.OnDown != nil {
				cb.OnDown(p.nodeName, msg)
			}
		}
	}
}

// heartbeatLoop periodically sends HEARTBEAT and watches for one having
// gone unanswered for too long on the read side (receiveLoop is the one
// that actually observes incoming heartbeats; this loop only needs to
// notice the connection has gone silent and close it).
func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !p.connected.Load() {
			return
		}
		if err := p.send(MsgHeartbeat, nil); err != nil {
			p.Close()
			return
		}
		last := time.Unix(0, p.lastHeartbeat.Load())
		if time.Since(last) > PeerTimeout {
			p.Close()
			return
		}
	}
}

// Close tears down the connection exactly once, however it was
// triggered (a read error, a failed heartbeat write, or an explicit
// Manager.Stop).
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.connected.Store(false)
		p.conn.Close()
	})
}
