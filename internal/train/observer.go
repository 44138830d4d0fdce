package train

import (
	"fmt"

	"github.com/samcharles93/tinyclm/internal/logger"
)

// Progress is reported once per iteration, after the model step and before
// the optimizer update.
type Progress struct {
	Iteration int
	Total     int
	Loss      float32
}

// Observer receives per-iteration progress for display or recording.
type Observer interface {
	Observe(p Progress) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress) error

func (f ObserverFunc) Observe(p Progress) error { return f(p) }

// notify delivers p to obs. Observer errors and panics are logged and
// otherwise ignored.
func notify(log logger.Logger, obs Observer, p Progress) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("progress observer panicked", "iteration", p.Iteration, "panic", fmt.Sprint(r))
		}
	}()
	if err := obs.Observe(p); err != nil {
		log.Warn("progress observer failed", "iteration", p.Iteration, "error", err)
	}
}
