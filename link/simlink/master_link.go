package simlink

import (
	"github.com/unixpickle/dist-sys/simulator"

	"github.com/lagreduce/lagreduce/wire"
)

// MasterLink adapts link.MasterLink onto a simulator.Handle/Port/Network
// triple. Unlike Link, the master's peer set grows as workers register, so
// it is a map rather than a fixed slice.
type MasterLink struct {
	handle  *simulator.Handle
	self    *simulator.Port
	network simulator.Network
	workers map[wire.PeerID]*simulator.Port
}

// NewMasterLink creates a MasterLink for a master bound to self.
func NewMasterLink(h *simulator.Handle, self *simulator.Port, network simulator.Network) *MasterLink {
	return &MasterLink{
		handle:  h,
		self:    self,
		network: network,
		workers: map[wire.PeerID]*simulator.Port{},
	}
}

// AddWorker records a worker's port under its assigned id so future sends
// can reach it. It has no effect on in-flight messages.
func (m *MasterLink) AddWorker(id wire.PeerID, port *simulator.Port) {
	m.workers[id] = port
}

// RemoveWorker forgets a worker. Broadcasts issued afterward skip it.
func (m *MasterLink) RemoveWorker(id wire.PeerID) {
	delete(m.workers, id)
}

// SendToWorker implements link.MasterLink.
func (m *MasterLink) SendToWorker(dst wire.PeerID, env *wire.Envelope) {
	port, ok := m.workers[dst]
	if !ok {
		return
	}
	m.network.Send(m.handle, &simulator.Message{
		Source:  m.self,
		Dest:    port,
		Message: env,
		Size:    float64(env.Size()),
	})
}

// Broadcast implements link.MasterLink.
func (m *MasterLink) Broadcast(dsts []wire.PeerID, env *wire.Envelope) {
	for _, id := range dsts {
		m.SendToWorker(id, env)
	}
}

// Recv implements link.MasterLink.
func (m *MasterLink) Recv() (*wire.Envelope, bool) {
	msg := m.self.Recv(m.handle)
	return msg.Message.(*wire.Envelope), true
}

// Close is a no-op; see Link.Close.
func (m *MasterLink) Close() {}
