package worker

import "errors"

// AllReduceInputRequest asks a DataSource for the vector to contribute to a
// given round.
type AllReduceInputRequest struct {
	Iteration int
}

// AllReduceInput is a DataSource's response: a vector of exactly the
// worker's configured DataSize.
type AllReduceInput struct {
	Data []float64
}

// AllReduceOutput is delivered to a DataSink once per completed round: the
// aggregated vector, the number of distinct peer contributions folded into
// each chunk (for diagnostics), and the round number.
type AllReduceOutput struct {
	Data      []float64
	Count     []int
	Iteration int
}

// DataSource supplies the vector a worker contributes to a round. The
// returned vector must have length exactly DataSize; a mismatch is a fatal
// configuration error (see ErrConfig).
type DataSource func(req AllReduceInputRequest) (AllReduceInput, error)

// DataSink receives the aggregated vector once a round completes.
type DataSink func(out AllReduceOutput)

// ErrConfig wraps a fatal configuration error: a DataSource returned a
// vector whose length does not match DataSize. The caller is expected to
// terminate the worker on this error.
var ErrConfig = errors.New("worker: data source returned a vector of the wrong length")
