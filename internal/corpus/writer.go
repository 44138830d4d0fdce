package corpus

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer appends token ids to a corpus stream.
type Writer struct {
	w       *bufio.Writer
	scratch [RecordWidth]byte
	count   int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64<<10)}
}

// Write appends ids. Ids outside [0, 65535] fail with ErrTokenOutOfRange.
func (w *Writer) Write(ids []int) error {
	for _, id := range ids {
		if id < 0 || id > math.MaxUint16 {
			return fmt.Errorf("%w: %d", ErrTokenOutOfRange, id)
		}
		binary.LittleEndian.PutUint16(w.scratch[:], uint16(id))
		if _, err := w.w.Write(w.scratch[:]); err != nil {
			return err
		}
		w.count++
	}
	return nil
}

// Count returns the number of tokens written so far.
func (w *Writer) Count() int64 { return w.count }

func (w *Writer) Flush() error { return w.w.Flush() }

// WriteTokens writes ids to w as a complete corpus stream.
func WriteTokens(w io.Writer, ids []int) error {
	cw := NewWriter(w)
	if err := cw.Write(ids); err != nil {
		return err
	}
	return cw.Flush()
}
