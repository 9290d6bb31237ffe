// Package node bridges internal/dist's wire-level Manager to a running
// scheduler's PID table: it is the part of spec §4.9 distribution that
// dist itself deliberately leaves out (dist only encodes/decodes frames
// and tracks peer connections — it has no notion of a local block).
package node

import (
	"bytes"
	"log/slog"

	"github.com/hyourindev/agim/internal/block"
	"github.com/hyourindev/agim/internal/dist"
	"github.com/hyourindev/agim/internal/pidtable"
	"github.com/hyourindev/agim/internal/tlv"
)

// Node owns a dist.Manager and resolves every inbound frame against the
// local PID table, the same table the scheduler spawns blocks into.
type Node struct {
	table *pidtable.Table
	log   *slog.Logger
	mgr   *dist.Manager
}

// New builds a Node wired to deliver inbound SEND frames onto table.
// Remote link/monitor/exit propagation (spec §4.9's LINK/MONITOR/EXIT/
// DOWN frame types) is not wired here: representing a remote PID as a
// local link/monitor-set member needs a proxy block standing in for the
// far side, which is future work — see DESIGN.md.
func New(cfg dist.Config, table *pidtable.Table, log *slog.Logger) *Node {
	n := &Node{table: table, log: log}
	n.mgr = dist.NewManager(cfg, dist.Callbacks{
		OnSend:     n.onSend,
		OnNodeDown: n.onNodeDown,
	})
	return n
}

// Manager returns the underlying dist.Manager, for Dial/Connected/Addr.
func (n *Node) Manager() *dist.Manager { return n.mgr }

// Listen starts accepting inbound peer connections.
func (n *Node) Listen() error { return n.mgr.Listen() }

// Stop closes the listener and every live peer connection.
func (n *Node) Stop() { n.mgr.Stop() }

func (n *Node) onSend(fromNode string, msg dist.SendMsg) {
	target, ok := n.table.Get(msg.TargetPID)
	if !ok || target.IsDead() {
		n.log.Warn("dist: SEND targets unknown or dead local pid", "from", fromNode, "target_pid", msg.TargetPID)
		return
	}
	payload, err := tlv.Decode(bytes.NewReader(msg.Payload))
	if err != nil {
		n.log.Warn("dist: malformed SEND payload", "from", fromNode, "err", err)
		return
	}
	if err := block.DeliverRemote(target, msg.SenderPID, payload); err != nil {
		n.log.Warn("dist: delivery failed", "from", fromNode, "target_pid", msg.TargetPID, "err", err)
	}
}

func (n *Node) onNodeDown(nodeName string) {
	n.log.Info("dist: peer node disconnected", "node", nodeName)
}
