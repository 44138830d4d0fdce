// Package progress renders training progress for terminals, logs and files.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samcharles93/tinyclm/internal/train"
)

const (
	defaultWidth = 80
	minRedraw    = 100 * time.Millisecond
)

// Bar draws a single-line progress bar with the latest loss. On a terminal it
// redraws in place; elsewhere it prints a line every tenth of the run.
type Bar struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	width    int
	now      func() time.Time
	start    time.Time
	lastDraw time.Time
	last     train.Progress
	drawn    bool
}

var _ train.Observer = (*Bar)(nil)

// NewBar writes to f, redrawing in place when f is a terminal.
func NewBar(f *os.File) *Bar {
	width, tty := terminalWidth(f)
	return newBar(f, tty, width)
}

// NewBarWriter writes plain lines to w.
func NewBarWriter(w io.Writer) *Bar {
	return newBar(w, false, defaultWidth)
}

func newBar(w io.Writer, tty bool, width int) *Bar {
	if width <= 0 {
		width = defaultWidth
	}
	return &Bar{w: w, tty: tty, width: width, now: time.Now}
}

func (b *Bar) Observe(p train.Progress) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.start.IsZero() {
		b.start = now
	}
	b.last = p
	final := p.Iteration >= p.Total

	if b.tty {
		if !final && b.drawn && now.Sub(b.lastDraw) < minRedraw {
			return nil
		}
		b.lastDraw = now
		b.drawn = true
		_, err := fmt.Fprintf(b.w, "\r%s\x1b[K", b.render(p, now))
		return err
	}

	step := max(p.Total/10, 1)
	if !final && p.Iteration != 1 && p.Iteration%step != 0 {
		return nil
	}
	b.drawn = true
	_, err := fmt.Fprintln(b.w, b.render(p, now))
	return err
}

// Finish ends the in-place line.
func (b *Bar) Finish() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tty || !b.drawn {
		return nil
	}
	_, err := fmt.Fprintf(b.w, "\r%s\x1b[K\n", b.render(b.last, b.now()))
	return err
}

func (b *Bar) render(p train.Progress, now time.Time) string {
	elapsed := now.Sub(b.start)
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(p.Iteration) / s
	}
	frac := 0.0
	if p.Total > 0 {
		frac = min(float64(p.Iteration)/float64(p.Total), 1)
	}

	head := fmt.Sprintf("%3.0f%% ", frac*100)
	tail := fmt.Sprintf(" %d/%d [%s, %.2fit/s, loss=%.3f]", p.Iteration, p.Total, formatElapsed(elapsed), rate, p.Loss)

	cells := b.width - len(head) - len(tail) - 2
	if cells < 10 {
		return strings.TrimSpace(head) + tail
	}
	filled := int(frac * float64(cells))
	return head + "|" + strings.Repeat("#", filled) + strings.Repeat(" ", cells-filled) + "|" + tail
}

func formatElapsed(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
