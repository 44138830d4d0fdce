package progress

import (
	"bufio"
	"io"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/tinyclm/internal/train"
)

// Record is one line of a JSONL progress file. Non-finite losses are written
// as null with Diverged set.
type Record struct {
	RunID     string    `json:"run_id"`
	Time      time.Time `json:"time"`
	Iteration int       `json:"iteration"`
	Total     int       `json:"total"`
	Loss      *float64  `json:"loss"`
	Diverged  bool      `json:"diverged,omitempty"`
}

// JSONL appends one Record per iteration to w.
type JSONL struct {
	mu    sync.Mutex
	runID string
	bw    *bufio.Writer
	enc   *json.Encoder
	now   func() time.Time
}

func NewJSONL(w io.Writer, runID string) *JSONL {
	bw := bufio.NewWriter(w)
	return &JSONL{runID: runID, bw: bw, enc: json.NewEncoder(bw), now: time.Now}
}

func (j *JSONL) Observe(p train.Progress) error {
	rec := Record{
		RunID:     j.runID,
		Time:      j.now().UTC(),
		Iteration: p.Iteration,
		Total:     p.Total,
	}
	if l := float64(p.Loss); math.IsNaN(l) || math.IsInf(l, 0) {
		rec.Diverged = true
	} else {
		rec.Loss = &l
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(rec); err != nil {
		return err
	}
	return j.bw.Flush()
}
