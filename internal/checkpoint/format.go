// Package checkpoint reads and writes exported model weights.
//
// A checkpoint is a fixed 32-byte little-endian header, a JSON metadata
// block, and a 64-byte aligned float32 payload:
//
//	0   magic "TCLM"
//	4   major (u16), minor (u16)
//	8   metadata size (u32), reserved (u32)
//	16  data offset (u64)
//	24  data size (u64)
package checkpoint

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	Magic = "TCLM"

	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	headerSize = 32
	dataAlign  = 64
)

var (
	ErrInvalidMagic       = errors.New("checkpoint: invalid magic")
	ErrUnsupportedVersion = errors.New("checkpoint: unsupported major version")
	ErrCorrupt            = errors.New("checkpoint: corrupt file")
	ErrTensorNotFound     = errors.New("checkpoint: tensor not found")
)

// Header is the fixed prefix of a checkpoint file.
type Header struct {
	Major      uint16
	Minor      uint16
	MetaSize   uint32
	DataOffset uint64
	DataSize   uint64
}

func (h Header) encode() []byte {
	b := make([]byte, headerSize)
	copy(b, Magic)
	binary.LittleEndian.PutUint16(b[4:], h.Major)
	binary.LittleEndian.PutUint16(b[6:], h.Minor)
	binary.LittleEndian.PutUint32(b[8:], h.MetaSize)
	binary.LittleEndian.PutUint64(b[16:], h.DataOffset)
	binary.LittleEndian.PutUint64(b[24:], h.DataSize)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, ErrCorrupt
	}
	if string(b[:4]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	h := Header{
		Major:      binary.LittleEndian.Uint16(b[4:]),
		Minor:      binary.LittleEndian.Uint16(b[6:]),
		MetaSize:   binary.LittleEndian.Uint32(b[8:]),
		DataOffset: binary.LittleEndian.Uint64(b[16:]),
		DataSize:   binary.LittleEndian.Uint64(b[24:]),
	}
	if h.Major != CurrentMajor {
		return Header{}, ErrUnsupportedVersion
	}
	return h, nil
}

// Meta describes the model stored in a checkpoint.
type Meta struct {
	Arch    string            `json:"arch"`
	RunID   string            `json:"run_id,omitempty"`
	Created time.Time         `json:"created"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Outputs []string          `json:"outputs"`
	Tensors []TensorInfo      `json:"tensors"`
}

// TensorInfo locates one float32 tensor inside the payload. Offset is
// relative to the start of the payload.
type TensorInfo struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// Elements returns the product of the shape.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Tensor is a named float32 array to be written.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}
