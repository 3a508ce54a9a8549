// Package simlink adapts link.Link and link.MasterLink onto the
// virtual-time simulator package, directly generalizing collcomm.Comms
// (Handle/Port/Network) to the master/worker protocol's addressed,
// integer-keyed peer set instead of collcomm's index-into-a-slice peers.
//
// It runs the protocol's links inside the virtual-time simulator; its own
// tests exercise it there. The worker and master tests drive their state
// machines through in-package fake links instead, and cmd/master and
// cmd/worker use link/tcplink.
package simlink

import (
	"github.com/unixpickle/dist-sys/simulator"
	"github.com/unixpickle/essentials"

	"github.com/lagreduce/lagreduce/wire"
)

// Link adapts link.Link onto a simulator.Handle/Port/Network triple.
//
// Defer is deliberately NOT a Network send, even a zero-delay one: the
// simulator's event loop randomizes the order of same-deadline timers (see
// simulator.EventLoop.step), which would make self-redelivery order
// non-deterministic. Instead deferred envelopes sit in a plain FIFO slice
// that Recv drains before polling the node's real inbox, giving the strict
// "processed after the triggering message, before any later arrival"
// ordering the worker's future-message handling depends on.
type Link struct {
	handle  *simulator.Handle
	self    *simulator.Port
	peers   []*simulator.Port // indexed by wire.PeerID
	master  *simulator.Port
	network simulator.Network

	deferred []*wire.Envelope
}

// New creates a Link for a worker whose own port is self, among peers
// (indexed by id, including self), reporting to master, communicating over
// network.
func New(h *simulator.Handle, self *simulator.Port, peers []*simulator.Port, master *simulator.Port, network simulator.Network) *Link {
	return &Link{
		handle:  h,
		self:    self,
		peers:   peers,
		master:  master,
		network: network,
	}
}

// Send implements link.Link.
func (l *Link) Send(dst wire.PeerID, env *wire.Envelope) {
	l.network.Send(l.handle, &simulator.Message{
		Source:  l.self,
		Dest:    l.peers[dst],
		Message: env,
		Size:    float64(env.Size()),
	})
}

// SendToMaster implements link.Link.
func (l *Link) SendToMaster(env *wire.Envelope) {
	l.network.Send(l.handle, &simulator.Message{
		Source:  l.self,
		Dest:    l.master,
		Message: env,
		Size:    float64(env.Size()),
	})
}

// Defer implements link.Link.
func (l *Link) Defer(env *wire.Envelope) {
	l.deferred = append(l.deferred, env)
}

// Recv implements link.Link.
func (l *Link) Recv() (*wire.Envelope, bool) {
	if len(l.deferred) > 0 {
		env := l.deferred[0]
		essentials.OrderedDelete(&l.deferred, 0)
		return env, true
	}
	msg := l.self.Recv(l.handle)
	return msg.Message.(*wire.Envelope), true
}

// Close is a no-op: the simulated event loop's own deadlock detection
// governs when a worker's Goroutine should stop polling.
func (l *Link) Close() {}
