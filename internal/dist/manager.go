package dist

import (
	"fmt"
	"net"
	"sync"
)

// Config identifies this node for handshake purposes (spec §4.9: "a node
// is identified by name@host:port and a shared 64-bit cookie").
type Config struct {
	Name   string
	Host   string
	Port   int
	Cookie uint64
}

// Addr is the listen/dial address derived from Host/Port.
func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Callbacks are the hooks a Manager dispatches every decoded frame to,
// each keyed by the remote peer's handshake-learned node name (spec.md
// §8 scenario 8: "A's callback receives (from=B, target_pid=42, ...)").
// A nil hook is simply not called.
type Callbacks struct {
	OnSend      func(fromNode string, msg SendMsg)
	OnLink      func(fromNode string, msg LinkMsg)
	OnUnlink    func(fromNode string, msg LinkMsg)
	OnExit      func(fromNode string, msg ExitMsg)
	OnMonitor   func(fromNode string, msg LinkMsg)
	OnDemonitor func(fromNode string, msg LinkMsg)
	OnDown      func(fromNode string, msg ExitMsg)
	// OnNodeDown fires once a peer's connection is lost — spec §4.9's
	// "node up/down monitors".
	OnNodeDown func(nodeName string)
}

// Manager owns this node's listener and its live peer connections,
// dispatching every decoded frame through cb.
type Manager struct {
	cfg Config
	cb  Callbacks

	ln net.Listener

	mu    sync.Mutex
	peers map[string]*Peer // keyed by remote node name

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager for cfg, dispatching incoming frames to cb.
func NewManager(cfg Config, cb Callbacks) *Manager {
	return &Manager{cfg: cfg, cb: cb, peers: make(map[string]*Peer), stopCh: make(chan struct{})}
}

// Listen starts accepting inbound connections on cfg.Host:cfg.Port.
func (m *Manager) Listen() error {
	ln, err := net.Listen("tcp", m.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dist: listen %s: %w", m.cfg.Addr(), err)
	}
	m.ln = ln
	m.wg.Add(1)
	go m.acceptLoop()
	return nil
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				continue
			}
		}
		go m.handleInbound(conn)
	}
}

func (m *Manager) handleInbound(conn net.Conn) {
	peer, err := acceptHandshake(conn, m.cfg)
	if err != nil {
		conn.Close()
		return
	}
	m.registerPeer(peer)
}

// Dial connects out to addr, performs the handshake as the initiator,
// and registers the resulting peer under its handshake-learned name.
func (m *Manager) Dial(addr string) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dist: dial %s: %w", addr, err)
	}
	peer, err := dialHandshake(conn, m.cfg)
	if err != nil {
		conn.Close()
		return "", err
	}
	m.registerPeer(peer)
	return peer.nodeName, nil
}

func (m *Manager) registerPeer(p *Peer) {
	m.mu.Lock()
	m.peers[p.nodeName] = p
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runPeer(p)
	}()
}

func (m *Manager) runPeer(p *Peer) {
	p.receiveLoop(m.cb)
	m.mu.Lock()
	if m.peers[p.nodeName] == p {
		delete(m.peers, p.nodeName)
	}
	m.mu.Unlock()
	if m.cb.OnNodeDown != nil {
		m.cb.OnNodeDown(p.nodeName)
	}
}

func (m *Manager) peer(nodeName string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[nodeName]
	return p, ok
}

func (m *Manager) sendMsg(nodeName string, typ MsgType, body []byte) error {
	p, ok := m.peer(nodeName)
	if !ok {
		return fmt.Errorf("dist: no connected peer named %q", nodeName)
	}
	return p.send(typ, body)
}

// Send transmits payload (already TLV-encoded by internal/tlv) to
// targetPID on the named peer node (spec §4.9's SEND message).
func (m *Manager) Send(nodeName string, targetPID, senderPID uint64, payload []byte) error {
	return m.sendMsg(nodeName, MsgSend, encodeSend(SendMsg{TargetPID: targetPID, SenderPID: senderPID, Payload: payload}))
}

// SendLink/SendUnlink/SendMonitor/SendDemonitor carry a remote link or
// monitor request across the wire (SPEC_FULL.md §4.9's fixed LINK-family
// body layout).
func (m *Manager) SendLink(nodeName string, msg LinkMsg) error {
	return m.sendMsg(nodeName, MsgLink, encodeLink(msg))
}

func (m *Manager) SendUnlink(nodeName string, msg LinkMsg) error {
	return m.sendMsg(nodeName, MsgUnlink, encodeLink(msg))
}

func (m *Manager) SendMonitor(nodeName string, msg LinkMsg) error {
	return m.sendMsg(nodeName, MsgMonitor, encodeLink(msg))
}

func (m *Manager) SendDemonitor(nodeName string, msg LinkMsg) error {
	return m.sendMsg(nodeName, MsgDemonitor, encodeLink(msg))
}

// SendExit/SendDown carry a remote exit-signal or monitor-fired
// notification across the wire (SPEC_FULL.md §4.9's fixed EXIT/DOWN body
// layout).
func (m *Manager) SendExit(nodeName string, msg ExitMsg) error {
	return m.sendMsg(nodeName, MsgExit, encodeExit(msg))
}

func (m *Manager) SendDown(nodeName string, msg ExitMsg) error {
	return m.sendMsg(nodeName, MsgDown, encodeExit(msg))
}

// Connected reports whether nodeName currently has a live connection.
func (m *Manager) Connected(nodeName string) bool {
	_, ok := m.peer(nodeName)
	return ok
}

// Addr returns the listener's actual bound address, or nil if Listen
// hasn't been called. Useful in tests that bind to port 0.
func (m *Manager) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Stop closes the listener and every live peer connection, then waits
// for all receiver/heartbeat goroutines to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	if m.ln != nil {
		m.ln.Close()
	}
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
	m.wg.Wait()
}
