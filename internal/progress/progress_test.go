package progress

import (
	"bufio"
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/tinyclm/internal/logger"
	"github.com/samcharles93/tinyclm/internal/train"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestBarPlainLines(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBarWriter(&buf)
	for i := 1; i <= 100; i++ {
		if err := bar.Observe(train.Progress{Iteration: i, Total: 100, Loss: 0.5}); err != nil {
			t.Fatal(err)
		}
	}
	if err := bar.Finish(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want 11:\n%s", len(lines), buf.String())
	}
	last := lines[len(lines)-1]
	if !strings.Contains(last, "100/100") || !strings.Contains(last, "loss=0.500") || !strings.HasPrefix(last, "100%") {
		t.Fatalf("last line = %q", last)
	}
	if strings.Contains(buf.String(), "\r") {
		t.Fatal("plain output must not redraw in place")
	}
}

func TestBarTerminalThrottles(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{t: time.Unix(0, 0)}
	bar := newBar(&buf, true, 60)
	bar.now = clock.now

	observe := func(i int) {
		t.Helper()
		if err := bar.Observe(train.Progress{Iteration: i, Total: 3, Loss: 2}); err != nil {
			t.Fatal(err)
		}
	}
	observe(1)
	clock.t = clock.t.Add(10 * time.Millisecond)
	observe(2)
	clock.t = clock.t.Add(10 * time.Millisecond)
	observe(3)
	if err := bar.Finish(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	if n := strings.Count(out, "\r"); n != 3 {
		t.Fatalf("got %d redraws, want 3 (first, final, finish): %q", n, out)
	}
	if strings.Contains(out, " 2/3 ") {
		t.Fatalf("throttled frame was drawn: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("finish must end the line: %q", out)
	}
	for _, frame := range strings.Split(strings.TrimSpace(out), "\r") {
		frame = strings.TrimSuffix(frame, "\x1b[K")
		if len(frame) > 60 {
			t.Fatalf("frame wider than terminal: %d %q", len(frame), frame)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := map[time.Duration]string{
		0:                             "00:00",
		61 * time.Second:              "01:01",
		time.Hour + 2*time.Minute + 3: "1:02:00",
	}
	for d, want := range cases {
		if got := formatElapsed(d); got != want {
			t.Errorf("formatElapsed(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONL(&buf, "run-42")
	j.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	for i, loss := range []float32{1.5, float32(math.NaN())} {
		if err := j.Observe(train.Progress{Iteration: i + 1, Total: 2, Loss: loss}); err != nil {
			t.Fatal(err)
		}
	}

	var recs []Record
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		recs = append(recs, r)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].RunID != "run-42" || recs[0].Loss == nil || *recs[0].Loss != 1.5 || recs[0].Diverged {
		t.Fatalf("first record = %+v", recs[0])
	}
	if recs[1].Loss != nil || !recs[1].Diverged || recs[1].Iteration != 2 {
		t.Fatalf("second record = %+v", recs[1])
	}
}

func TestLogEvery(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: logger.JSON(&buf, slog.LevelInfo), Every: 4}
	for i := 1; i <= 10; i++ {
		_ = l.Observe(train.Progress{Iteration: i, Total: 10, Loss: 1})
	}
	// 4, 8 and the final iteration.
	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Fatalf("got %d log lines:\n%s", n, buf.String())
	}
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	var calls []string
	m := Multi{
		train.ObserverFunc(func(train.Progress) error { calls = append(calls, "a"); return boom }),
		nil,
		train.ObserverFunc(func(train.Progress) error { calls = append(calls, "b"); return errors.New("later") }),
	}
	if err := m.Observe(train.Progress{Iteration: 1, Total: 1}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want first error", err)
	}
	if strings.Join(calls, "") != "ab" {
		t.Fatalf("calls = %v", calls)
	}
}
