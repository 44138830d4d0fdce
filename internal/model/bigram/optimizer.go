package bigram

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// optimizer applies Adam updates to the trainer's weights.
type optimizer struct {
	t      *Trainer
	solver gorgonia.Solver
}

func (o *optimizer) SetLearningRate(lr float64) error {
	if lr <= 0 {
		return fmt.Errorf("bigram: learning rate must be positive, got %v", lr)
	}
	o.solver = gorgonia.NewAdamSolver(gorgonia.WithLearnRate(lr))
	return nil
}

func (o *optimizer) Step() error {
	if o.solver == nil {
		return fmt.Errorf("bigram: optimizer stepped before a learning rate was set")
	}
	return o.solver.Step(gorgonia.NodesToValueGrads(o.t.Learnables()))
}

// ResetGrad rewinds the tape so the next pass recomputes gradients from zero.
func (o *optimizer) ResetGrad() error {
	o.t.vm.Reset()
	return nil
}
