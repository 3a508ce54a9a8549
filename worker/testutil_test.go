package worker

import "github.com/lagreduce/lagreduce/wire"

// fakeBus is an in-process router connecting a set of fakeLinks, used to
// drive the worker state machine deterministically without a real network
// or event loop: messages sent by one worker land directly in another's
// inbox slice.
type fakeBus struct {
	workers map[wire.PeerID]*fakeLink
	master  []*wire.Envelope
}

func newFakeBus() *fakeBus {
	return &fakeBus{workers: map[wire.PeerID]*fakeLink{}}
}

func (b *fakeBus) link(id wire.PeerID) *fakeLink {
	l := &fakeLink{id: id, bus: b}
	b.workers[id] = l
	return l
}

// fakeLink implements link.Link with plain slices: Recv is non-blocking
// and reports (nil, false) once both the deferred queue and inbox are
// empty, rather than blocking for a message that might arrive later from
// another worker still being drained. Tests drain all workers in a loop
// until no more progress is made, which is sufficient for a closed set of
// cooperating workers with no real concurrency.
type fakeLink struct {
	id       wire.PeerID
	bus      *fakeBus
	inbox    []*wire.Envelope
	deferred []*wire.Envelope
}

func (l *fakeLink) Send(dst wire.PeerID, env *wire.Envelope) {
	if peer, ok := l.bus.workers[dst]; ok {
		peer.inbox = append(peer.inbox, env)
	}
}

func (l *fakeLink) SendToMaster(env *wire.Envelope) {
	l.bus.master = append(l.bus.master, env)
}

func (l *fakeLink) Defer(env *wire.Envelope) {
	l.deferred = append(l.deferred, env)
}

func (l *fakeLink) Recv() (*wire.Envelope, bool) {
	if len(l.deferred) > 0 {
		env := l.deferred[0]
		l.deferred = l.deferred[1:]
		return env, true
	}
	if len(l.inbox) > 0 {
		env := l.inbox[0]
		l.inbox = l.inbox[1:]
		return env, true
	}
	return nil, false
}

func (l *fakeLink) Close() {}

// delayingLink wraps a fakeLink and withholds every outbound message until
// release is called, modeling a peer whose own messages are delayed in
// flight without delaying its internal processing.
type delayingLink struct {
	*fakeLink
	held []heldMsg
}

type heldMsg struct {
	dst    wire.PeerID
	env    *wire.Envelope
	master bool
}

func (l *delayingLink) Send(dst wire.PeerID, env *wire.Envelope) {
	l.held = append(l.held, heldMsg{dst: dst, env: env})
}

func (l *delayingLink) SendToMaster(env *wire.Envelope) {
	l.held = append(l.held, heldMsg{env: env, master: true})
}

func (l *delayingLink) release() {
	held := l.held
	l.held = nil
	for _, m := range held {
		if m.master {
			l.fakeLink.SendToMaster(m.env)
		} else {
			l.fakeLink.Send(m.dst, m.env)
		}
	}
}

// drainAll repeatedly dispatches every pending message (inbox, then
// deferred) on every worker until none has any message left to process.
func drainAll(workers ...*Worker) {
	progress := true
	for progress {
		progress = false
		for _, w := range workers {
			for {
				env, ok := w.Link.Recv()
				if !ok {
					break
				}
				w.handle(env)
				progress = true
			}
		}
	}
}

func initEnvelope(dest wire.PeerID, peers map[wire.PeerID]string, master string, thReduce, thComplete float64, maxLag, dataSize, maxChunkSize int) *wire.Envelope {
	return &wire.Envelope{Init: &wire.InitWorkers{
		Peers:        peers,
		Master:       master,
		DestID:       dest,
		ThReduce:     thReduce,
		ThComplete:   thComplete,
		MaxLag:       maxLag,
		DataSize:     dataSize,
		MaxChunkSize: maxChunkSize,
	}}
}

func startEnvelope(round int) *wire.Envelope {
	return &wire.Envelope{Start: &wire.StartAllreduce{Round: round}}
}
