package master

import (
	"context"
	"errors"
	"testing"

	"github.com/lagreduce/lagreduce/link"
	"github.com/lagreduce/lagreduce/wire"
)

var errResolve = errors.New("resolve failed")

type fakeMasterLink struct {
	sent      []*wire.Envelope
	broadcast [][]wire.PeerID
	inbox     []*wire.Envelope
}

func (l *fakeMasterLink) SendToWorker(dst wire.PeerID, env *wire.Envelope) {
	l.sent = append(l.sent, env)
}

func (l *fakeMasterLink) Broadcast(dsts []wire.PeerID, env *wire.Envelope) {
	l.broadcast = append(l.broadcast, dsts)
	l.sent = append(l.sent, env)
}

func (l *fakeMasterLink) Recv() (*wire.Envelope, bool) {
	if len(l.inbox) == 0 {
		return nil, false
	}
	env := l.inbox[0]
	l.inbox = l.inbox[1:]
	return env, true
}

func (l *fakeMasterLink) Close() {}

func resolveTo(addr string) func(context.Context) (link.PeerAddr, error) {
	return func(context.Context) (link.PeerAddr, error) { return addr, nil }
}

// S6 — master quorum. 4 workers, thAllreduce=0.75 (quorum = 3). After 3
// report CompleteAllreduce(0), the master advances to round 1.
func TestMasterAdvancesOnQuorum(t *testing.T) {
	fl := &fakeMasterLink{}
	m := New(fl, Config{
		Addr: "master:0", TotalWorkers: 4, ThAllreduce: 0.75,
		ThReduce: 0.9, ThComplete: 0.8, MaxLag: 1, DataSize: 10, MaxChunkSize: 2, MaxRound: 100,
	})

	var ids []wire.PeerID
	for i := 0; i < 4; i++ {
		id, err := m.MemberUp(context.Background(), "worker", "worker", resolveTo("addr"))
		if err != nil {
			t.Fatalf("MemberUp: %v", err)
		}
		ids = append(ids, id)
	}

	if m.round != 0 {
		t.Fatalf("expected bootstrap once all 4 registered (quorum 3), got round=%d", m.round)
	}

	for i := 0; i < 3; i++ {
		m.handleComplete(&wire.CompleteAllreduce{SrcID: ids[i], Round: 0})
	}
	if m.round != 1 {
		t.Fatalf("expected round to advance to 1 after 3 of 4 workers completed round 0, got round=%d", m.round)
	}

	// The 4th worker's late CompleteAllreduce(0) is now stale and must not
	// double-advance the round.
	m.handleComplete(&wire.CompleteAllreduce{SrcID: ids[3], Round: 0})
	if m.round != 1 {
		t.Fatalf("stale CompleteAllreduce for round 0 must not advance past round 1, got round=%d", m.round)
	}
}

// Quorum is computed from the configured TotalWorkers, not the live
// registered count, so a terminated worker cannot lower the bar.
func TestMasterQuorumFrozenAtTotalWorkers(t *testing.T) {
	fl := &fakeMasterLink{}
	m := New(fl, Config{
		Addr: "master:0", TotalWorkers: 4, ThAllreduce: 0.75,
		ThReduce: 0.9, ThComplete: 0.8, MaxLag: 1, DataSize: 10, MaxChunkSize: 2, MaxRound: 100,
	})

	var ids []wire.PeerID
	for i := 0; i < 4; i++ {
		id, _ := m.MemberUp(context.Background(), "worker", "worker", resolveTo("addr"))
		ids = append(ids, id)
	}
	m.Terminated(ids[3])

	for i := 0; i < 2; i++ {
		m.handleComplete(&wire.CompleteAllreduce{SrcID: ids[i], Round: 0})
	}
	if m.round != 0 {
		t.Fatalf("2 completions must not reach a quorum of 3 even with only 3 live workers, got round=%d", m.round)
	}
	m.handleComplete(&wire.CompleteAllreduce{SrcID: ids[2], Round: 0})
	if m.round != 1 {
		t.Fatalf("expected round to advance once 3 of the original 4 completed, got round=%d", m.round)
	}
}

func TestMemberUpResolveFailure(t *testing.T) {
	fl := &fakeMasterLink{}
	m := New(fl, Config{TotalWorkers: 1, ThAllreduce: 1.0})
	_, err := m.MemberUp(context.Background(), "worker", "worker", func(context.Context) (link.PeerAddr, error) {
		return "", errResolve
	})
	if err == nil {
		t.Fatalf("expected an error when resolve fails")
	}
	if len(m.workers) != 0 {
		t.Fatalf("a failed resolution must not register a worker")
	}
}

func TestMemberUpIgnoresNonWorkerRoles(t *testing.T) {
	fl := &fakeMasterLink{}
	m := New(fl, Config{TotalWorkers: 1, ThAllreduce: 1.0})
	resolved := false
	_, err := m.MemberUp(context.Background(), "observer-1", "observer", func(context.Context) (link.PeerAddr, error) {
		resolved = true
		return "addr", nil
	})
	if !errors.Is(err, ErrUnsupportedRole) {
		t.Fatalf("expected ErrUnsupportedRole but got %v", err)
	}
	if resolved {
		t.Fatalf("a non-worker role must never reach resolve")
	}
	if len(m.workers) != 0 {
		t.Fatalf("a non-worker role must not be registered")
	}
}
