package logits

import (
	"errors"
	"math"
)

// ErrNoCandidate is returned when a distribution has no comparable entry.
var ErrNoCandidate = errors.New("logits: no finite candidate")

// Argmax returns the index of the largest value in x.
//
// NaN entries are never selected. Exact ties resolve to the lowest index, so
// the result is deterministic for a given vector. +Inf wins over any finite
// value.
func Argmax(x []float32) (int, error) {
	best := -1
	var bestV float32
	for i, v := range x {
		if v != v {
			continue
		}
		if best < 0 || v > bestV {
			best = i
			bestV = v
		}
	}
	if best < 0 {
		return 0, ErrNoCandidate
	}
	return best, nil
}

// Softmax writes the normalised exponentials of x into dst, subtracting the
// maximum first for stability. dst may alias x.
func Softmax(dst, x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxv))
		dst[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / sum)
	for i := range dst[:len(x)] {
		dst[i] *= inv
	}
}
