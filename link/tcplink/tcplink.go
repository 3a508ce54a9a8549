// Package tcplink is the transport adapter the reference launchers
// (cmd/master, cmd/worker) use to run the protocol across real processes.
//
// Wire encoding is left up to the transport; any length-prefixed framing
// with peer-addressable delivery will do. encoding/gob self-delimits each
// value on a persistent connection, so no separate length prefix is layered
// on top. This is the one concern in the module built on the standard
// library rather than a third-party dependency: see DESIGN.md for why no
// lower-risk point-to-point message-bus library fit a worker mesh.
package tcplink

import (
	"encoding/gob"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/unixpickle/essentials"

	"github.com/lagreduce/lagreduce/wire"
)

// Link implements link.Link over persistent, lazily-dialed TCP connections,
// one per directed peer pair.
type Link struct {
	listener net.Listener
	selfID   wire.PeerID

	peersMu    sync.Mutex
	peers      map[wire.PeerID]string // worker id -> "host:port"
	masterAddr string

	connMu  sync.Mutex
	conns   map[wire.PeerID]*gob.Encoder
	rawConn map[wire.PeerID]net.Conn

	inbox  chan *wire.Envelope
	defer_ []*wire.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds addr and returns a Link. The worker's id is not known until
// InitWorkers arrives over the link itself, so it defaults to -1 until
// ConfigurePeers (or SetSelfID) sets it; the peer set and master address
// likewise stay empty until ConfigurePeers supplies them from InitWorkers.
func Listen(addr string) (*Link, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Link{
		listener: lis,
		selfID:   -1,
		peers:    map[wire.PeerID]string{},
		conns:    map[wire.PeerID]*gob.Encoder{},
		rawConn:  map[wire.PeerID]net.Conn{},
		inbox:    make(chan *wire.Envelope, 64),
		closed:   make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the address the link is listening on.
func (l *Link) Addr() string { return l.listener.Addr().String() }

// SetSelfID records the id InitWorkers assigned this worker. The link
// stores it but does not otherwise read it.
func (l *Link) SetSelfID(id wire.PeerID) {
	l.peersMu.Lock()
	defer l.peersMu.Unlock()
	l.selfID = id
}

// ConfigurePeers implements link.PeerConfigurer: InitWorkers is the first
// point at which a tcplink worker learns who it can dial.
func (l *Link) ConfigurePeers(peers map[wire.PeerID]string, masterAddr string, selfID wire.PeerID) {
	l.peersMu.Lock()
	l.selfID = selfID
	l.peers = peers
	l.masterAddr = masterAddr
	l.peersMu.Unlock()
}

func (l *Link) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		go l.handleConn(conn)
	}
}

func (l *Link) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	for {
		env := new(wire.Envelope)
		if err := dec.Decode(env); err != nil {
			return
		}
		select {
		case l.inbox <- env:
		case <-l.closed:
			return
		}
	}
}

// masterKey is a reserved entry in the peer connection maps for the
// master's connection, outside the dense 0..N-1 worker id space.
const masterKey wire.PeerID = -1

func (l *Link) encoderFor(dst wire.PeerID, addr string) (*gob.Encoder, bool) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if enc, ok := l.conns[dst]; ok {
		return enc, true
	}
	if addr == "" {
		glog.Warningf("tcplink: no known address for peer %d", dst)
		return nil, false
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		glog.Warningf("tcplink: dial peer %d at %s: %v", dst, addr, err)
		return nil, false
	}
	enc := gob.NewEncoder(conn)
	l.conns[dst] = enc
	l.rawConn[dst] = conn
	return enc, true
}

func (l *Link) dropConn(dst wire.PeerID) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if conn, ok := l.rawConn[dst]; ok {
		conn.Close()
	}
	delete(l.conns, dst)
	delete(l.rawConn, dst)
}

// Send implements link.Link. Failed sends are logged and dropped, relying
// on the protocol's own lag tolerance rather than retrying here.
func (l *Link) Send(dst wire.PeerID, env *wire.Envelope) {
	l.peersMu.Lock()
	addr := l.peers[dst]
	l.peersMu.Unlock()
	enc, ok := l.encoderFor(dst, addr)
	if !ok {
		return
	}
	if err := enc.Encode(env); err != nil {
		glog.Warningf("tcplink: send to peer %d: %v", dst, err)
		l.dropConn(dst)
	}
}

// SendToMaster implements link.Link.
func (l *Link) SendToMaster(env *wire.Envelope) {
	l.peersMu.Lock()
	addr := l.masterAddr
	l.peersMu.Unlock()
	enc, ok := l.encoderFor(masterKey, addr)
	if !ok {
		return
	}
	if err := enc.Encode(env); err != nil {
		glog.Warningf("tcplink: send to master: %v", err)
		l.dropConn(masterKey)
	}
}

// Defer implements link.Link. Like simlink, this is a plain FIFO rather
// than a trip back through the network, since tcplink's Recv/Defer are
// only ever called from the single Goroutine running the worker's RunLoop.
func (l *Link) Defer(env *wire.Envelope) {
	l.defer_ = append(l.defer_, env)
}

// Recv implements link.Link.
func (l *Link) Recv() (*wire.Envelope, bool) {
	if len(l.defer_) > 0 {
		env := l.defer_[0]
		essentials.OrderedDelete(&l.defer_, 0)
		return env, true
	}
	select {
	case env, ok := <-l.inbox:
		return env, ok
	case <-l.closed:
		return nil, false
	}
}

// Close implements link.Link.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.listener.Close()
		l.connMu.Lock()
		for _, conn := range l.rawConn {
			conn.Close()
		}
		l.connMu.Unlock()
	})
}
