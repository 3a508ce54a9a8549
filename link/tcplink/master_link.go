package tcplink

import (
	"encoding/gob"
	"net"
	"sync"

	"github.com/golang/glog"

	"github.com/lagreduce/lagreduce/wire"
)

// MasterLink implements link.MasterLink over TCP, mirroring Link but keyed
// by a worker registry that grows as workers register rather than a fixed
// peer set known up front.
type MasterLink struct {
	listener net.Listener

	mu      sync.Mutex
	addrs   map[wire.PeerID]string
	conns   map[wire.PeerID]*gob.Encoder
	rawConn map[wire.PeerID]net.Conn

	inbox chan *wire.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// ListenMaster binds addr for the master.
func ListenMaster(addr string) (*MasterLink, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	m := &MasterLink{
		listener: lis,
		addrs:    map[wire.PeerID]string{},
		conns:    map[wire.PeerID]*gob.Encoder{},
		rawConn:  map[wire.PeerID]net.Conn{},
		inbox:    make(chan *wire.Envelope, 64),
		closed:   make(chan struct{}),
	}
	go m.acceptLoop()
	return m, nil
}

// Addr returns the address the master is listening on.
func (m *MasterLink) Addr() string { return m.listener.Addr().String() }

// AddWorker records the address a newly registered worker can be reached
// at.
func (m *MasterLink) AddWorker(id wire.PeerID, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addrs[id] = addr
}

// RemoveWorker forgets a worker and drops its connection, if any.
func (m *MasterLink) RemoveWorker(id wire.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.addrs, id)
	if conn, ok := m.rawConn[id]; ok {
		conn.Close()
	}
	delete(m.conns, id)
	delete(m.rawConn, id)
}

func (m *MasterLink) acceptLoop() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handleConn(conn)
	}
}

func (m *MasterLink) handleConn(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	for {
		env := new(wire.Envelope)
		if err := dec.Decode(env); err != nil {
			return
		}
		select {
		case m.inbox <- env:
		case <-m.closed:
			return
		}
	}
}

func (m *MasterLink) encoderFor(dst wire.PeerID) (*gob.Encoder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enc, ok := m.conns[dst]; ok {
		return enc, true
	}
	addr, ok := m.addrs[dst]
	if !ok {
		glog.Warningf("tcplink: master has no address for worker %d", dst)
		return nil, false
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		glog.Warningf("tcplink: master dial worker %d at %s: %v", dst, addr, err)
		return nil, false
	}
	enc := gob.NewEncoder(conn)
	m.conns[dst] = enc
	m.rawConn[dst] = conn
	return enc, true
}

// SendToWorker implements link.MasterLink.
func (m *MasterLink) SendToWorker(dst wire.PeerID, env *wire.Envelope) {
	enc, ok := m.encoderFor(dst)
	if !ok {
		return
	}
	if err := enc.Encode(env); err != nil {
		glog.Warningf("tcplink: master send to worker %d: %v", dst, err)
		m.mu.Lock()
		if conn, ok := m.rawConn[dst]; ok {
			conn.Close()
		}
		delete(m.conns, dst)
		delete(m.rawConn, dst)
		m.mu.Unlock()
	}
}

// Broadcast implements link.MasterLink.
func (m *MasterLink) Broadcast(dsts []wire.PeerID, env *wire.Envelope) {
	for _, id := range dsts {
		m.SendToWorker(id, env)
	}
}

// Recv implements link.MasterLink.
func (m *MasterLink) Recv() (*wire.Envelope, bool) {
	select {
	case env, ok := <-m.inbox:
		return env, ok
	case <-m.closed:
		return nil, false
	}
}

// Close implements link.MasterLink.
func (m *MasterLink) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.listener.Close()
		m.mu.Lock()
		for _, conn := range m.rawConn {
			conn.Close()
		}
		m.mu.Unlock()
	})
}
