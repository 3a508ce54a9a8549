// Package master implements the thin round-pacing coordinator: it gathers
// worker registrations, assigns dense integer ids in registration order,
// bootstraps the group once a quorum has registered, and advances the
// global round once a completion quorum reports in. Its dispatch shape
// follows raft.Leader.RunLoop's poll-and-handle loop, scaled down to the
// one message type (CompleteAllreduce) a master ever receives.
package master

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/lagreduce/lagreduce/link"
	"github.com/lagreduce/lagreduce/wire"
)

// RoleWorker is the only member role MemberUp admits into the worker set.
const RoleWorker = "worker"

// ErrUnsupportedRole is returned by MemberUp for any role other than
// RoleWorker; the membership service advertising it gets no id and is never
// resolved or registered.
var ErrUnsupportedRole = errors.New("master: member role is not registrable")

// Config holds a master's fixed hyperparameters, broadcast to every worker
// verbatim inside InitWorkers.
type Config struct {
	Addr         link.PeerAddr
	TotalWorkers int
	ThAllreduce  float64
	ThReduce     float64
	ThComplete   float64
	MaxLag       int
	DataSize     int
	MaxChunkSize int
	MaxRound     int
}

// Master is the round-pacing coordinator. The zero value is not usable;
// construct one with New and drive it with RunLoop, feeding registrations
// through MemberUp and terminations through Terminated as they occur.
type Master struct {
	Link link.MasterLink

	// RegisterAddr, if set, is called synchronously right after a member's
	// address resolves and is assigned an id, and strictly before any
	// bootstrap broadcast that id might trigger. Adapters whose Link needs
	// the id->address mapping populated before SendToWorker/Broadcast can
	// reach a worker (tcplink.MasterLink.AddWorker) wire themselves in
	// through this hook rather than Master depending on their concrete
	// type.
	RegisterAddr func(wire.PeerID, link.PeerAddr)

	cfg Config

	workers map[wire.PeerID]link.PeerAddr
	nextID  wire.PeerID

	round       int // -1 until bootstrap quorum is reached
	numComplete int
	completedBy map[wire.PeerID]bool
}

// New creates a Master bound to l, not yet bootstrapped.
func New(l link.MasterLink, cfg Config) *Master {
	return &Master{
		Link:        l,
		cfg:         cfg,
		workers:     map[wire.PeerID]link.PeerAddr{},
		completedBy: map[wire.PeerID]bool{},
		round:       -1,
	}
}

// MemberUp registers a prospective worker reported by a membership service.
// Only members advertising RoleWorker are ever resolved or assigned an id;
// any other role is ignored and reported back as ErrUnsupportedRole. resolve
// performs whatever real-world I/O (DNS, service discovery) is needed to
// turn member into a dialable PeerAddr; it is given 5 seconds of real
// wall-clock budget via ctx, independent of the virtual-time protocol clock,
// because resolution is outside the simulated protocol entirely (mirrored
// from raft.Follower mixing a real context.Context for cancellation
// alongside simulator.Handle for protocol timing). Each attempt is tagged
// with a correlation id so a slow or failed resolution can be matched back
// to the membership event that triggered it.
func (m *Master) MemberUp(ctx context.Context, member link.MemberID, role string, resolve func(context.Context) (link.PeerAddr, error)) (wire.PeerID, error) {
	if role != RoleWorker {
		glog.V(1).Infof("master: ignoring member %s advertising role %q", member, role)
		return 0, ErrUnsupportedRole
	}

	corr := uuid.NewString()
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addr, err := resolve(rctx)
	if err != nil {
		glog.Warningf("master[%s]: resolving %s (role=%s): %v", corr, member, role, err)
		return 0, fmt.Errorf("master: resolving %s: %w", member, err)
	}

	id := m.nextID
	m.nextID++
	m.workers[id] = addr
	glog.V(1).Infof("master[%s]: member %s (role=%s) registered as worker %d at %s", corr, member, role, id, addr)
	if m.RegisterAddr != nil {
		m.RegisterAddr(id, addr)
	}

	if m.round == -1 && len(m.workers) >= ceilFrac(m.cfg.TotalWorkers, m.cfg.ThAllreduce) {
		m.bootstrap()
	}
	return id, nil
}

// Terminated removes a worker from the registered set. Per the protocol's
// frozen-quorum-denominator design, ids are never re-packed and the
// quorum arithmetic continues to divide by cfg.TotalWorkers, not
// len(m.workers); a hole in the id space only reduces who can still
// contribute, never what counts as quorum.
func (m *Master) Terminated(id wire.PeerID) {
	delete(m.workers, id)
	delete(m.completedBy, id)
	glog.V(1).Infof("master: worker %d terminated", id)
}

// RunLoop dispatches CompleteAllreduce envelopes from Link until it closes.
func (m *Master) RunLoop() {
	for {
		env, ok := m.Link.Recv()
		if !ok {
			return
		}
		if env.Complete == nil {
			glog.Warningf("master: ignoring envelope with no CompleteAllreduce")
			continue
		}
		m.handleComplete(env.Complete)
	}
}

func (m *Master) bootstrap() {
	ids := make([]wire.PeerID, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	peers := make(map[wire.PeerID]link.PeerAddr, len(m.workers))
	for id, addr := range m.workers {
		peers[id] = addr
	}
	for _, id := range ids {
		m.Link.SendToWorker(id, &wire.Envelope{Init: &wire.InitWorkers{
			Peers:        peers,
			Master:       m.cfg.Addr,
			DestID:       id,
			ThReduce:     m.cfg.ThReduce,
			ThComplete:   m.cfg.ThComplete,
			MaxLag:       m.cfg.MaxLag,
			DataSize:     m.cfg.DataSize,
			MaxChunkSize: m.cfg.MaxChunkSize,
		}})
	}
	m.round = 0
	m.Link.Broadcast(ids, &wire.Envelope{Start: &wire.StartAllreduce{Round: 0}})
	glog.Infof("master: bootstrapped with %d workers, round 0 started", len(m.workers))
}

func (m *Master) handleComplete(c *wire.CompleteAllreduce) {
	if m.round == -1 || c.Round != m.round {
		return
	}
	if m.completedBy[c.SrcID] {
		return
	}
	m.completedBy[c.SrcID] = true
	m.numComplete++

	quorum := ceilFrac(m.cfg.TotalWorkers, m.cfg.ThAllreduce)
	if m.numComplete < quorum || m.round >= m.cfg.MaxRound {
		return
	}

	m.round++
	m.numComplete = 0
	m.completedBy = map[wire.PeerID]bool{}

	ids := make([]wire.PeerID, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.Link.Broadcast(ids, &wire.Envelope{Start: &wire.StartAllreduce{Round: m.round}})
	glog.V(1).Infof("master: round advanced to %d", m.round)
}

// ceilFrac is frac*n rounded up, floored at 1, the same quorum arithmetic
// ChunkedRoundBuffer uses for its own thresholds (mirroring
// paxos.quorumSize's role as the one place quorum decisions get made,
// kept here as its own tiny copy rather than a shared export since neither
// caller needs the other's threshold semantics).
func ceilFrac(n int, frac float64) int {
	q := int(math.Ceil(frac * float64(n)))
	if q < 1 {
		q = 1
	}
	return q
}
