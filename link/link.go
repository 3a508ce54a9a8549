// Package link defines the transport adapter the worker and master state
// machines depend on. Concrete adapters live in the simlink and tcplink
// subpackages; the core protocol packages never import either one.
package link

import "github.com/lagreduce/lagreduce/wire"

// Link is a worker's view of the transport: addressed sends to peers, an
// inbox that yields one wire.Envelope at a time, and a way to re-enqueue an
// envelope ahead of whatever has not yet been delivered, for messages that
// arrive before the worker is ready to process them.
type Link interface {
	// Send delivers an envelope to the peer with the given id. Send does
	// not report delivery failure; the protocol's own lag tolerance is
	// what makes this safe. Whether Send waits on the network depends on
	// the adapter: simlink hands the message to the simulated network and
	// returns, while tcplink dials (on first use) and writes synchronously
	// on the caller's goroutine.
	Send(dst wire.PeerID, env *wire.Envelope)

	// SendToMaster delivers an envelope to the worker's master, which is
	// not itself a member of the peer id space.
	SendToMaster(env *wire.Envelope)

	// Defer re-enqueues an envelope to this node itself, ahead of any
	// envelope not yet delivered by Recv, and after every envelope
	// already enqueued ahead of it (FIFO among deferred envelopes).
	Defer(env *wire.Envelope)

	// Recv blocks until the next envelope is available, preferring
	// deferred envelopes over newly arrived ones. The second return
	// value is false once the link has been closed and no more
	// envelopes will ever arrive.
	Recv() (*wire.Envelope, bool)

	// Close releases the link's resources. Recv unblocks and returns
	// (nil, false) for any call already in progress or made afterward.
	Close()
}

// MasterLink is the master's view of the transport: sends and broadcasts
// addressed by worker id, and an inbox of envelopes arriving from workers.
type MasterLink interface {
	SendToWorker(dst wire.PeerID, env *wire.Envelope)
	Broadcast(dsts []wire.PeerID, env *wire.Envelope)
	Recv() (*wire.Envelope, bool)
	Close()
}

// PeerConfigurer is implemented by Link adapters whose peer addresses
// aren't known until InitWorkers arrives (tcplink, where each worker
// process is started independently of the others) rather than wired in at
// construction (simlink, where the whole topology is built up front in one
// process). Worker.handleInit calls this via a type assertion if the
// concrete Link supports it.
type PeerConfigurer interface {
	ConfigurePeers(peers map[wire.PeerID]PeerAddr, masterAddr PeerAddr, selfID wire.PeerID)
}

// MemberID identifies a prospective worker before it has been assigned a
// dense wire.PeerID — typically a hostname or a membership service's own
// opaque node name.
type MemberID = string

// PeerAddr is the address a worker is reachable at, as carried verbatim in
// wire.InitWorkers.Peers. Its concrete form (a TCP host:port, a symbolic
// name meaningful only to a pre-wired simulation) is up to the transport
// adapter; the master and wire schema only ever treat it as an opaque
// string.
type PeerAddr = string
