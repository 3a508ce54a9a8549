package worker

import (
	"github.com/golang/glog"

	"github.com/lagreduce/lagreduce/wire"
)

func (w *Worker) handleStart(m *wire.StartAllreduce) {
	r := m.Round
	if r > w.maxRound {
		w.maxRound = r
	}

	// Catch-up: force completion of any round about to fall out of the
	// buffer window, regardless of whether quorum was ever reached, so a
	// stalled round cannot block forward progress forever.
	for w.round < w.maxRound-w.maxLag {
		for k := 0; k < w.myNumChunks; k++ {
			reduced, count := w.reduce(0, k)
			w.broadcast(reduced, k, w.round, count)
		}
		w.complete(w.round, 0)
	}

	for w.maxScattered < w.maxRound {
		iteration := w.maxScattered + 1
		if err := w.fetch(iteration); err != nil {
			glog.Fatalf("worker %d: fetching input for round %d: %v", w.id, iteration, err)
		}
		w.scatter()
		w.maxScattered++
	}

	for round := range w.completed {
		if round < w.round {
			delete(w.completed, round)
		}
	}
}

func (w *Worker) handleScatter(m *wire.ScatterBlock) {
	if m.DestID != w.id {
		panic("worker: ScatterBlock misaddressed")
	}
	r := m.Round
	if r < w.round || w.completed[r] {
		glog.Warningf("worker %d: dropping outdated ScatterBlock for round %d", w.id, r)
		return
	}
	if r > w.maxRound {
		w.Link.Defer(&wire.Envelope{Start: &wire.StartAllreduce{Round: r}})
		w.Link.Defer(&wire.Envelope{Scatter: m})
		return
	}
	row, ok := w.scatterBuf.RowForRound(r)
	if !ok {
		glog.Warningf("worker %d: ScatterBlock for round %d outside buffer window", w.id, r)
		return
	}
	if m.ChunkID < 0 || m.ChunkID >= w.scatterBuf.NumChunks() {
		glog.Warningf("worker %d: dropping ScatterBlock with out-of-range chunk %d (have %d)", w.id, m.ChunkID, w.scatterBuf.NumChunks())
		return
	}
	w.scatterBuf.Store(row, m.SrcID, m.ChunkID, m.Value, 0)
	if w.scatterBuf.ReachThreshold(row, m.ChunkID) {
		reduced, count := w.reduce(row, m.ChunkID)
		w.broadcast(reduced, m.ChunkID, r, count)
	}
}

func (w *Worker) handleReduce(m *wire.ReduceBlock) {
	if m.DestID != w.id {
		panic("worker: ReduceBlock misaddressed")
	}
	if len(m.Value) > w.maxChunkSize {
		panic("worker: oversize ReduceBlock chunk")
	}
	r := m.Round
	if r < w.round || w.completed[r] {
		glog.Warningf("worker %d: dropping outdated ReduceBlock for round %d", w.id, r)
		return
	}
	if r > w.maxRound {
		w.Link.Defer(&wire.Envelope{Start: &wire.StartAllreduce{Round: r}})
		w.Link.Defer(&wire.Envelope{Reduce: m})
		return
	}
	row, ok := w.reduceBuf.RowForRound(r)
	if !ok {
		glog.Warningf("worker %d: ReduceBlock for round %d outside buffer window", w.id, r)
		return
	}
	if m.ChunkID < 0 || m.ChunkID >= w.reduceBuf.NumChunks() {
		glog.Warningf("worker %d: dropping ReduceBlock with out-of-range chunk %d (have %d)", w.id, m.ChunkID, w.reduceBuf.NumChunks())
		return
	}
	w.reduceBuf.Store(row, m.SrcID, m.ChunkID, m.Value, m.ReduceCount)
	if w.reduceBuf.ReachRoundThreshold(row) {
		w.complete(r, row)
	}
}
