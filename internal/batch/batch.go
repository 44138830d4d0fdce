package batch

import (
	"errors"
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

var (
	ErrCorpusTooSmall = errors.New("batch: corpus too small for the requested window")
	ErrInvalidShape   = errors.New("batch: batch size and sequence length must be positive")
)

// Source is the random-access token view a Sampler draws windows from.
type Source interface {
	TokenCount() int
	ReadWindowInto(dst []uint16, start int) error
}

// Batch is one minibatch of next-token training pairs.
//
// Inputs has shape [BatchSize, SeqLen]; Labels is flattened to
// [BatchSize*SeqLen] in row order. Row i of Labels is row i of Inputs shifted
// forward by one token.
type Batch struct {
	Inputs *tensor.Dense
	Labels *tensor.Dense
	Starts []int

	BatchSize int
	SeqLen    int
}

// InputRow returns row i of the inputs.
func (b *Batch) InputRow(i int) []int64 {
	data := b.Inputs.Data().([]int64)
	return data[i*b.SeqLen : (i+1)*b.SeqLen]
}

// LabelRow returns row i of the flattened labels.
func (b *Batch) LabelRow(i int) []int64 {
	data := b.Labels.Data().([]int64)
	return data[i*b.SeqLen : (i+1)*b.SeqLen]
}

// MaxStart returns the exclusive upper bound for window start offsets, or
// ErrCorpusTooSmall when no window plus its shifted label fits.
func MaxStart(tokenCount, seqLen int) (int, error) {
	if seqLen <= 0 {
		return 0, ErrInvalidShape
	}
	n := tokenCount - seqLen - 1
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d tokens, sequence length %d", ErrCorpusTooSmall, tokenCount, seqLen)
	}
	return n, nil
}

// Sample draws batchSize windows at uniformly random starts in
// [0, TokenCount-seqLen-1). The rng is consumed in row order, one draw per row.
func Sample(src Source, batchSize, seqLen int, rng *rand.Rand) (*Batch, error) {
	if batchSize <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("%w: batch=%d seq=%d", ErrInvalidShape, batchSize, seqLen)
	}
	maxStart, err := MaxStart(src.TokenCount(), seqLen)
	if err != nil {
		return nil, err
	}

	inputs := make([]int64, batchSize*seqLen)
	labels := make([]int64, batchSize*seqLen)
	starts := make([]int, batchSize)
	window := make([]uint16, seqLen)

	for row := 0; row < batchSize; row++ {
		start := rng.Intn(maxStart)
		starts[row] = start

		// The two reads overlap by seqLen-1 tokens.
		if err := src.ReadWindowInto(window, start); err != nil {
			return nil, fmt.Errorf("batch: row %d input: %w", row, err)
		}
		widen(inputs[row*seqLen:(row+1)*seqLen], window)

		if err := src.ReadWindowInto(window, start+1); err != nil {
			return nil, fmt.Errorf("batch: row %d labels: %w", row, err)
		}
		widen(labels[row*seqLen:(row+1)*seqLen], window)
	}

	return &Batch{
		Inputs:    tensor.New(tensor.WithShape(batchSize, seqLen), tensor.WithBacking(inputs)),
		Labels:    tensor.New(tensor.WithShape(batchSize*seqLen), tensor.WithBacking(labels)),
		Starts:    starts,
		BatchSize: batchSize,
		SeqLen:    seqLen,
	}, nil
}

func widen(dst []int64, src []uint16) {
	for i, v := range src {
		dst[i] = int64(v)
	}
}

// Sampler binds a source, a batch geometry and a random stream. It owns the
// rng for the lifetime of a run; sharing it breaks reproducibility.
type Sampler struct {
	src       Source
	rng       *rand.Rand
	batchSize int
	seqLen    int
}

// NewSampler validates the geometry against the source up front so a corpus
// that is too small is reported before any training starts.
func NewSampler(src Source, batchSize, seqLen int, rng *rand.Rand) (*Sampler, error) {
	if batchSize <= 0 || seqLen <= 0 {
		return nil, fmt.Errorf("%w: batch=%d seq=%d", ErrInvalidShape, batchSize, seqLen)
	}
	if _, err := MaxStart(src.TokenCount(), seqLen); err != nil {
		return nil, err
	}
	return &Sampler{src: src, rng: rng, batchSize: batchSize, seqLen: seqLen}, nil
}

func (s *Sampler) Next() (*Batch, error) {
	return Sample(s.src, s.batchSize, s.seqLen, s.rng)
}

func (s *Sampler) BatchSize() int { return s.batchSize }
func (s *Sampler) SeqLen() int    { return s.seqLen }
