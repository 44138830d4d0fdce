package model

import (
	"context"
	"errors"
	"fmt"

	"gorgonia.org/tensor"
)

// ErrExternal marks failures reported by a model, optimizer or tokenizer
// collaborator. They are never retried.
var ErrExternal = errors.New("external model error")

// Trainable is a model that can take one forward/backward step on a batch and
// export an inference-only graph once training is done.
type Trainable interface {
	// Step runs forward and backward passes for inputs [B, T] and flattened
	// labels [B*T] and returns the scalar loss. It does not update weights.
	Step(ctx context.Context, inputs, labels *tensor.Dense) (float32, error)
	Optimizer() Optimizer
	Export(path string, outputNames []string) error
}

// Optimizer applies accumulated gradients.
type Optimizer interface {
	SetLearningRate(lr float64) error
	Step() error
	ResetGrad() error
}

// Session runs an exported inference graph. Input is a [1, T] (or [T]) tensor
// of token ids; outputs are keyed by name.
type Session interface {
	Run(ctx context.Context, input *tensor.Dense) (map[string]*tensor.Dense, error)
}

type externalError struct {
	op  string
	err error
}

func (e *externalError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *externalError) Unwrap() []error {
	return []error{ErrExternal, e.err}
}

// Wrap tags err as an external model failure for operation op. Errors already
// tagged are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternal) {
		return err
	}
	return &externalError{op: op, err: err}
}
