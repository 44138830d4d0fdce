package progress

import (
	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/train"
)

// Log reports progress through a structured logger every Every iterations
// and on the last one.
type Log struct {
	Logger logger.Logger
	Every  int
}

func (l Log) Observe(p train.Progress) error {
	every := max(l.Every, 1)
	if p.Iteration%every != 0 && p.Iteration != p.Total {
		return nil
	}
	log := l.Logger
	if log == nil {
		log = logger.Default()
	}
	log.Info("train progress", "iteration", p.Iteration, "total", p.Total, "loss", p.Loss)
	return nil
}

// Multi fans progress out to several observers. All observers see every
// update; the first error is returned.
type Multi []train.Observer

func (m Multi) Observe(p train.Progress) error {
	var first error
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.Observe(p); err != nil && first == nil {
			first = err
		}
	}
	return first
}
