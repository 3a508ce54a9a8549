package worker

import (
	"github.com/lagreduce/lagreduce/chunking"
	"github.com/lagreduce/lagreduce/wire"
)

// fetch refreshes w.data from Source for the given iteration, rejecting a
// mismatched vector length as a fatal configuration error.
func (w *Worker) fetch(iteration int) error {
	in, err := w.Source(AllReduceInputRequest{Iteration: iteration})
	if err != nil {
		return err
	}
	if len(in.Data) != w.dataSize {
		return ErrConfig
	}
	w.data = in.Data
	return nil
}

// scatter splits w.data into N blocks, one per peer, chunks each block by
// that destination's own chunk count (the corrected formula from the
// Design Notes), and sends every non-empty chunk as a ScatterBlock. The
// stagger (i+id) mod N spreads the resulting fan-out across peers instead
// of every worker hammering peer 0 first.
func (w *Worker) scatter() {
	r := w.maxScattered + 1
	for i := 0; i < w.peerCount; i++ {
		destIdx := (i + w.id) % w.peerCount
		if _, ok := w.peers[destIdx]; !ok {
			continue
		}
		blockRange := chunking.BlockRange(w.dataSize, w.peerCount, destIdx)
		block := w.data[blockRange.Start:blockRange.End]
		numChunks := chunking.NumChunks(blockRange.Len(), w.maxChunkSize)
		for k := 0; k < numChunks; k++ {
			chunkRange := chunking.ChunkRange(blockRange.Len(), w.maxChunkSize, k)
			if chunkRange.Len() == 0 {
				continue
			}
			w.Link.Send(destIdx, &wire.Envelope{Scatter: &wire.ScatterBlock{
				Value:   block[chunkRange.Start:chunkRange.End],
				SrcID:   w.id,
				DestID:  destIdx,
				ChunkID: k,
				Round:   r,
			}})
		}
	}
}

// reduce folds every peer's contribution for (row, chunkID) in scatterBuf
// through Reduce, zero-filling any peer that has not contributed so Reduce
// always sees one vector per peer, matching the "missing peers contribute
// zero" buffer contract.
func (w *Worker) reduce(row, chunkID int) ([]float64, int) {
	length := chunking.ChunkRange(w.myBlockSize, w.maxChunkSize, chunkID).Len()
	vecs := make([][]float64, w.peerCount)
	for p := 0; p < w.peerCount; p++ {
		if v := w.scatterBuf.Slot(row, chunkID, p); v != nil {
			vecs[p] = v
		} else {
			vecs[p] = make([]float64, length)
		}
	}
	count := w.scatterBuf.Count(row, chunkID)
	return w.Reduce(vecs...), count
}

// broadcast sends the reduced chunk this worker owns to every peer, using
// the same staggered order as scatter.
func (w *Worker) broadcast(reduced []float64, chunkID, r, count int) {
	for i := 0; i < w.peerCount; i++ {
		destIdx := (i + w.id) % w.peerCount
		if _, ok := w.peers[destIdx]; !ok {
			continue
		}
		w.Link.Send(destIdx, &wire.Envelope{Reduce: &wire.ReduceBlock{
			Value:       reduced,
			SrcID:       w.id,
			DestID:      destIdx,
			ChunkID:     chunkID,
			Round:       r,
			ReduceCount: count,
		}})
	}
}

// complete assembles and delivers round r's output, reports completion to
// master, and collapses any run of out-of-order completions into an
// advance of round.
func (w *Worker) complete(r, row int) {
	w.flush(r, row)
	w.Link.SendToMaster(&wire.Envelope{Complete: &wire.CompleteAllreduce{SrcID: w.id, Round: r}})
	w.completed[r] = true
	if r == w.round {
		for w.completed[w.round] {
			w.round++
			w.scatterBuf.Up()
			w.reduceBuf.Up()
		}
	}
}

// flush reassembles reduceBuf's row into a dataSize-length output vector,
// block by block, since each block (peer) owns its own chunking rather
// than sharing one uniform chunk count. A block whose reduced chunk never
// arrived is left zero, matching the "missing peer contributes zero"
// failure semantics.
func (w *Worker) flush(r, row int) {
	output := make([]float64, w.dataSize)
	counts := make([]int, w.dataSize)
	for p := 0; p < w.peerCount; p++ {
		blockRange := chunking.BlockRange(w.dataSize, w.peerCount, p)
		numChunks := chunking.NumChunks(blockRange.Len(), w.maxChunkSize)
		for k := 0; k < numChunks; k++ {
			chunkRange := chunking.ChunkRange(blockRange.Len(), w.maxChunkSize, k)
			start := blockRange.Start + chunkRange.Start
			end := blockRange.Start + chunkRange.End
			weight := w.reduceBuf.Weight(row, k, p)
			if v := w.reduceBuf.Slot(row, k, p); v != nil {
				copy(output[start:end], v)
			}
			for i := start; i < end; i++ {
				counts[i] = weight
			}
		}
	}
	w.Sink(AllReduceOutput{Data: output, Count: counts, Iteration: r})
}
