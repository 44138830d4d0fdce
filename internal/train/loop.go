package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samcharles93/tinyclm/internal/batch"
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/model"
)

var ErrInvalidConfig = errors.New("train: invalid configuration")

type Status int

const (
	StatusRunning Status = iota
	StatusConverged
	StatusAborted
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusConverged:
		return "converged"
	case StatusAborted:
		return "aborted"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the result of a run. Iteration counts completed model steps,
// including the step whose loss aborted the run.
type State struct {
	Iteration    int
	Loss         float32
	LearningRate float64
	Status       Status
	Exported     bool
	Duration     time.Duration
}

// Config is fixed for the duration of a run.
type Config struct {
	Iterations   int
	LearningRate float64

	// OutputPath is where the inference graph is exported after a converged
	// run. Empty skips the export.
	OutputPath  string
	OutputNames []string
}

func (c Config) validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidConfig, c.Iterations)
	}
	if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0) {
		return fmt.Errorf("%w: learning rate must be a positive number, got %v", ErrInvalidConfig, c.LearningRate)
	}
	if c.OutputPath != "" && len(c.OutputNames) == 0 {
		return fmt.Errorf("%w: export needs at least one output name", ErrInvalidConfig)
	}
	return nil
}

// BatchSource yields one fresh batch per call.
type BatchSource interface {
	Next() (*batch.Batch, error)
}

// Run drives trainer for cfg.Iterations steps. Each iteration samples a batch,
// steps the model, reports progress and, if the loss is finite, applies and
// clears the optimizer update. A non-finite loss ends the run immediately with
// StatusAborted and no export. Sampling and model failures are returned as
// errors and end the run.
func Run(ctx context.Context, trainer model.Trainable, src BatchSource, cfg Config, obs Observer) (state State, err error) {
	log := logger.FromContext(ctx).WithGroup("train")
	state = State{Status: StatusRunning, LearningRate: cfg.LearningRate}

	if err := cfg.validate(); err != nil {
		return state, err
	}

	opt := trainer.Optimizer()
	if err := opt.SetLearningRate(cfg.LearningRate); err != nil {
		return state, model.Wrap("set learning rate", err)
	}

	start := time.Now()
	defer func() { state.Duration = time.Since(start) }()

	for state.Iteration < cfg.Iterations {
		if err := ctx.Err(); err != nil {
			state.Status = StatusCanceled
			return state, err
		}

		b, err := src.Next()
		if err != nil {
			return state, fmt.Errorf("train: iteration %d: %w", state.Iteration+1, err)
		}

		loss, err := trainer.Step(ctx, b.Inputs, b.Labels)
		if err != nil {
			return state, fmt.Errorf("train: iteration %d: %w", state.Iteration+1, model.Wrap("step", err))
		}
		state.Iteration++
		state.Loss = loss

		notify(log, obs, Progress{Iteration: state.Iteration, Total: cfg.Iterations, Loss: loss})

		if !finite(loss) {
			state.Status = StatusAborted
			log.Warn("loss diverged, abandoning run", "iteration", state.Iteration, "loss", loss)
			return state, nil
		}

		if err := opt.Step(); err != nil {
			return state, fmt.Errorf("train: iteration %d: %w", state.Iteration, model.Wrap("optimizer step", err))
		}
		if err := opt.ResetGrad(); err != nil {
			return state, fmt.Errorf("train: iteration %d: %w", state.Iteration, model.Wrap("reset grad", err))
		}
	}

	state.Status = StatusConverged
	log.Info("training complete", "iterations", state.Iteration, "loss", state.Loss)

	if cfg.OutputPath == "" {
		return state, nil
	}
	if err := trainer.Export(cfg.OutputPath, cfg.OutputNames); err != nil {
		return state, fmt.Errorf("train: export %s: %w", cfg.OutputPath, model.Wrap("export", err))
	}
	state.Exported = true
	log.Info("exported inference graph", "path", cfg.OutputPath, "outputs", cfg.OutputNames)
	return state, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
