// Package worker implements the per-node scatter-reduce-allgather state
// machine: the core of the all-reduce protocol. A Worker is driven entirely
// by its link.Link — RunLoop consumes one wire.Envelope at a time and
// never blocks anywhere except inside its Link's calls (Recv, and Send on
// an adapter whose Send writes synchronously), following the same
// single-threaded dispatch shape as raft.Follower.RunLoop.
package worker

import (
	"github.com/golang/glog"

	"github.com/lagreduce/lagreduce/buffer"
	"github.com/lagreduce/lagreduce/chunking"
	"github.com/lagreduce/lagreduce/link"
	"github.com/lagreduce/lagreduce/wire"
)

// Worker is a single node's scatter-reduce-allgather state machine. The
// zero value is not initialized; construct one with New and drive it via
// RunLoop.
type Worker struct {
	Link   link.Link
	Source DataSource
	Sink   DataSink
	Reduce ReduceFn

	id         wire.PeerID
	peerCount  int // N, frozen at InitWorkers and never shrunk
	peers      map[wire.PeerID]string
	masterAddr string

	dataSize     int
	maxChunkSize int
	maxLag       int
	thReduce     float64
	thComplete   float64

	maxBlockSize int
	myBlockSize  int
	myNumChunks  int
	maxNumChunks int

	data []float64

	round        int
	maxRound     int
	maxScattered int
	completed    map[int]bool

	scatterBuf *buffer.ChunkedRoundBuffer
	reduceBuf  *buffer.ChunkedRoundBuffer

	initialized bool
	pending     []*wire.Envelope // messages received before InitWorkers
}

// New creates an uninitialized Worker bound to transport l, pulling round
// inputs from source and delivering completed rounds to sink. reduce
// defaults to Sum when nil.
func New(l link.Link, source DataSource, sink DataSink, reduce ReduceFn) *Worker {
	if reduce == nil {
		reduce = Sum
	}
	return &Worker{
		Link:   l,
		Source: source,
		Sink:   sink,
		Reduce: reduce,
		id:     -1,
	}
}

// RunLoop consumes envelopes from Link until it closes. Messages that
// arrive before InitWorkers are buffered locally and replayed, in arrival
// order, once initialization completes.
func (w *Worker) RunLoop() {
	for !w.initialized {
		env, ok := w.Link.Recv()
		if !ok {
			return
		}
		if env.Init != nil {
			w.handleInit(env.Init)
			break
		}
		glog.V(1).Infof("worker: buffering message received before InitWorkers")
		w.pending = append(w.pending, env)
	}
	for _, env := range w.pending {
		w.Link.Defer(env)
	}
	w.pending = nil

	for {
		env, ok := w.Link.Recv()
		if !ok {
			return
		}
		w.handle(env)
	}
}

func (w *Worker) handle(env *wire.Envelope) {
	switch {
	case env.Init != nil:
		w.handleInit(env.Init)
	case env.Start != nil:
		w.handleStart(env.Start)
	case env.Scatter != nil:
		w.handleScatter(env.Scatter)
	case env.Reduce != nil:
		w.handleReduce(env.Reduce)
	default:
		panic("worker: unexpected envelope")
	}
}

func (w *Worker) handleInit(m *wire.InitWorkers) {
	w.id = m.DestID
	w.peers = m.Peers
	w.peerCount = len(m.Peers)
	w.masterAddr = m.Master
	w.dataSize = m.DataSize
	w.maxChunkSize = m.MaxChunkSize
	w.maxLag = m.MaxLag
	w.thReduce = m.ThReduce
	w.thComplete = m.ThComplete

	w.maxBlockSize = chunking.StepSize(w.dataSize, w.peerCount)
	w.myBlockSize = w.blockSize(w.id)
	w.myNumChunks = chunking.NumChunks(w.myBlockSize, w.maxChunkSize)
	w.maxNumChunks = chunking.NumChunks(w.maxBlockSize, w.maxChunkSize)

	w.data = make([]float64, w.dataSize)

	w.scatterBuf = buffer.New(w.myNumChunks, w.peerCount, w.maxLag, w.thReduce)
	w.reduceBuf = buffer.NewWeighted(w.maxNumChunks, w.peerCount, w.maxLag, w.thComplete, w.reduceChunkOwners())

	w.round = 0
	w.maxRound = -1
	w.maxScattered = -1
	w.completed = map[int]bool{}
	w.initialized = true

	if pc, ok := w.Link.(link.PeerConfigurer); ok {
		pc.ConfigurePeers(m.Peers, m.Master, m.DestID)
	}

	glog.V(1).Infof("worker %d: initialized with %d peers, myBlockSize=%d myNumChunks=%d",
		w.id, w.peerCount, w.myBlockSize, w.myNumChunks)
}

// Terminated drops peer from the live peer set. It is reported directly by
// whatever membership service is supervising the transport, not carried as
// a wire.Envelope, mirroring Master.MemberUp's out-of-band shape. The
// buffer's frozen peerCount denominator is unaffected (see the Design
// Notes' choice to never shrink quorum arithmetic).
func (w *Worker) Terminated(peer wire.PeerID) {
	delete(w.peers, peer)
	glog.V(1).Infof("worker %d: peer %d terminated", w.id, peer)
}

func (w *Worker) blockSize(peerIdx wire.PeerID) int {
	return chunking.BlockRange(w.dataSize, w.peerCount, peerIdx).Len()
}

// reduceChunkOwners returns, for each chunk index c in 0..maxNumChunks-1,
// how many peers own a block wide enough to have a c-th chunk at all. A
// ReduceBlock for chunk c is only ever broadcast by a peer whose own block
// reaches that far, so reduceBuf's quorum for c must be sized against this
// count rather than the full peer set: otherwise any chunk index beyond the
// narrowest peer's chunk count could never reach quorum.
func (w *Worker) reduceChunkOwners() []int {
	owners := make([]int, w.maxNumChunks)
	for p := 0; p < w.peerCount; p++ {
		n := chunking.NumChunks(w.blockSize(wire.PeerID(p)), w.maxChunkSize)
		for c := 0; c < n; c++ {
			owners[c]++
		}
	}
	return owners
}
