// Package chunking computes the block and chunk boundaries that partition a
// data vector across peers and across wire messages.
//
// A vector of length dataSize is first split into peerSize contiguous
// blocks, one per peer, each of size ceil(dataSize/peerSize) except the
// last, which absorbs the remainder. Each block is then split further into
// chunks of at most maxChunkSize elements, the unit actually carried on the
// wire.
package chunking

// Range is a half-open index range [Start, End) into a vector.
type Range struct {
	Start int
	End   int
}

// Len returns the number of elements covered by the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// StepSize returns the size of block 0, i.e. ceil(dataSize/peerSize).
// This is also MaxBlockSize in spec terms.
func StepSize(dataSize, peerSize int) int {
	if peerSize <= 0 {
		panic("peerSize must be positive")
	}
	return (dataSize + peerSize - 1) / peerSize
}

// BlockRange returns the half-open range of vector indices owned by the
// block at idx, out of peerSize blocks covering a vector of length
// dataSize. The last block absorbs any remainder.
func BlockRange(dataSize, peerSize, idx int) Range {
	step := StepSize(dataSize, peerSize)
	start := idx * step
	if start > dataSize {
		start = dataSize
	}
	end := start + step
	if end > dataSize {
		end = dataSize
	}
	return Range{Start: start, End: end}
}

// NumChunks returns ceil(blockSize/maxChunkSize), the number of chunks a
// block of the given size is split into. A zero-size block has zero chunks.
func NumChunks(blockSize, maxChunkSize int) int {
	if maxChunkSize <= 0 {
		panic("maxChunkSize must be positive")
	}
	if blockSize <= 0 {
		return 0
	}
	return (blockSize + maxChunkSize - 1) / maxChunkSize
}

// ChunkRange returns the half-open, block-local range of the chunk at
// chunkID within a block of size blockSize, chunked at maxChunkSize. The
// canonical formula [k*C, min((k+1)*C, L)) is used; callers must not ask for
// a chunkID beyond NumChunks(blockSize, maxChunkSize)-1.
func ChunkRange(blockSize, maxChunkSize, chunkID int) Range {
	start := chunkID * maxChunkSize
	end := start + maxChunkSize
	if end > blockSize {
		end = blockSize
	}
	if start > blockSize {
		start = blockSize
	}
	return Range{Start: start, End: end}
}
