package worker

import (
	"testing"

	"github.com/lagreduce/lagreduce/wire"
)

// S4 — RunLoop must buffer messages that arrive before InitWorkers and
// replay them afterward, and handleScatter must defer a message that
// names a round beyond anything seen yet until the StartAllreduce that
// makes that round current has itself been synthesized and processed.
// Both paths share the same deferred FIFO, so this test exercises them
// together in the order they'd actually interleave on the wire.
func TestRunLoopBuffersBeforeInitAndReordersFutureRound(t *testing.T) {
	bus := newFakeBus()
	peers := peerAddrs(2)

	var out0, out1 []AllReduceOutput
	w0 := New(bus.link(0), staticSource([]float64{1, 2}), collectingSink(&out0), nil)
	w1 := New(bus.link(1), staticSource([]float64{10, 20}), collectingSink(&out1), nil)

	// Seed w0's raw inbox as if w1 had already scattered into round 0
	// before w0 had even been handed its InitWorkers.
	link0 := bus.workers[0]
	link0.inbox = append(link0.inbox,
		&wire.Envelope{Scatter: &wire.ScatterBlock{Value: []float64{10}, SrcID: 1, DestID: 0, ChunkID: 0, Round: 0}},
		initEnvelope(0, peers, "master", 1.0, 1.0, 1, 2, 2),
		startEnvelope(0),
	)

	w0.RunLoop()
	if !w0.initialized {
		t.Fatalf("RunLoop did not process the buffered InitWorkers")
	}
	if w0.maxRound != 0 {
		t.Fatalf("expected w0 to have synthesized StartAllreduce(0) while reordering the early ScatterBlock, got maxRound=%d", w0.maxRound)
	}

	w1.handle(initEnvelope(1, peers, "master", 1.0, 1.0, 1, 2, 2))
	w1.handle(startEnvelope(0))
	drainAll(w0, w1)

	want := []float64{11, 22}
	if len(out0) != 1 || !floatsEqual(out0[0].Data, want) {
		t.Fatalf("expected w0 to complete round 0 with %v despite the early ScatterBlock, got %v", want, out0)
	}
	if len(out1) != 1 || !floatsEqual(out1[0].Data, want) {
		t.Fatalf("expected w1 to complete round 0 with %v, got %v", want, out1)
	}
}
