package txbuilder

import (
	"math"
)

// DustThreshold is the minimum change value worth creating for a standard
// pay-to-key-hash output; anything below is folded into the fee
const DustThreshold = 136

// Estimated byte sizes for the fixed one-input transaction shape
const (
	inputSize    = 148
	outputSize   = 34
	overheadSize = 10
)

// FeePolicy is a fixed-size heuristic, not a fee-market estimator: the
// payment engine always builds one input and a handful of outputs, so a
// static size estimate is enough.
type FeePolicy struct {
	SatsPerByte float64
	MinFee      uint64
}

// DefaultFeePolicy keeps small payments at the flat minimum fee
var DefaultFeePolicy = FeePolicy{SatsPerByte: 0.05, MinFee: 74}

// Fee computes max(ceil(estimatedSize * rate), minimum) for a transaction
// with one input and numOutputs outputs
func (p FeePolicy) Fee(numOutputs int) uint64 {
	size := overheadSize + inputSize + outputSize*numOutputs
	fee := uint64(math.Ceil(float64(size) * p.SatsPerByte))
	if fee < p.MinFee {
		fee = p.MinFee
	}
	return fee
}
