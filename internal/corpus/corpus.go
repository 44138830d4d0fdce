package corpus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// RecordWidth is the on-disk size of one token id.
const RecordWidth = 2

var (
	ErrFormat           = errors.New("corpus: file length is not a multiple of the record width")
	ErrWindowOutOfRange = errors.New("corpus: window out of range")
	ErrClosed           = errors.New("corpus: closed")
	ErrTokenOutOfRange  = errors.New("corpus: token id does not fit in 16 bits")
)

// Corpus is a read-only view over a flat file of little-endian uint16 token
// ids. Windows are read on demand; the file is never loaded into memory.
//
// A Corpus reuses an internal read buffer and is not safe for concurrent use.
type Corpus struct {
	path   string
	file   *os.File
	size   int64
	tokens int
	buf    []byte
}

// Open opens the corpus at path and derives its token count from the file size.
func Open(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("corpus: stat %s: %w", path, err)
	}
	size := stat.Size()
	if size%RecordWidth != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFormat, path, size)
	}
	if size/RecordWidth > int64(int(^uint(0)>>1)) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is too large to index", ErrFormat, path)
	}

	// Sampling reads are scattered across the file.
	adviseRandom(f, size)

	return &Corpus{
		path:   path,
		file:   f,
		size:   size,
		tokens: int(size / RecordWidth),
	}, nil
}

func (c *Corpus) Path() string { return c.path }

// Size returns the corpus length in bytes.
func (c *Corpus) Size() int64 { return c.size }

// TokenCount returns the number of token records in the corpus.
func (c *Corpus) TokenCount() int { return c.tokens }

// ReadWindow returns length token ids starting at token index start.
func (c *Corpus) ReadWindow(start, length int) ([]uint16, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrWindowOutOfRange, length)
	}
	out := make([]uint16, length)
	if err := c.ReadWindowInto(out, start); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadWindowInto fills dst with len(dst) token ids starting at token index
// start. A window that extends past the end of the corpus fails with
// ErrWindowOutOfRange; a truncated read surfaces io.ErrUnexpectedEOF.
func (c *Corpus) ReadWindowInto(dst []uint16, start int) error {
	if c == nil || c.file == nil {
		return ErrClosed
	}
	length := len(dst)
	if start < 0 || start > c.tokens-length {
		return fmt.Errorf("%w: start=%d length=%d tokens=%d", ErrWindowOutOfRange, start, length, c.tokens)
	}
	if length == 0 {
		return nil
	}

	n := length * RecordWidth
	if cap(c.buf) < n {
		c.buf = make([]byte, n)
	}
	buf := c.buf[:n]

	off := int64(start) * RecordWidth
	if _, err := c.file.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("corpus: read %s at byte %d: %w", c.path, off, err)
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint16(buf[i*RecordWidth:])
	}
	return nil
}

func (c *Corpus) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	c.buf = nil
	return err
}
