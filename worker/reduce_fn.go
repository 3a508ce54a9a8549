package worker

// A ReduceFn combines one contribution per peer, in peer-index order, into a
// single chunk. A peer that has not contributed is passed a zero-valued
// vector rather than omitted, matching the buffer's "missing peers
// contribute zero" contract. This composes transparently with Sum, whose
// identity element is zero, but a ReduceFn without a zero identity (Max or
// Min over data that can go negative, say) sees every absent peer as a real
// zero contribution, not as "no opinion" -- that is the buffer's contract,
// not a property the reducer gets to opt out of.
type ReduceFn func(vecs ...[]float64) []float64

// Sum is the default ReduceFn: elementwise vector sum. Grounded on
// collcomm.Sum, minus its simulated-flop sleep, which belongs to whichever
// link.Link happens to be backed by the simulator, not to the reduction
// strategy itself.
func Sum(vecs ...[]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			panic("worker: mismatching chunk lengths")
		}
	}
	res := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			res[i] += x
		}
	}
	return res
}
