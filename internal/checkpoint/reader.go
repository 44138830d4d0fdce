package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/goccy/go-json"
)

// File is an opened checkpoint. Tensor data stays in the mapping (or buffer)
// until Close.
type File struct {
	Header Header
	Meta   Meta

	data    []byte
	mmapped bool
	index   map[string]int
}

// Open maps the checkpoint at path read-only and validates its layout. It
// falls back to reading the whole file where mmap is unavailable.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	size64 := stat.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorrupt, path, size64)
	}
	size := int(size64)

	if data, ok := mapFile(f, size); ok {
		cf, err := parse(data)
		if err != nil {
			_ = unmapFile(data)
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cf.mmapped = true
		return cf, nil
	}

	data := make([]byte, size)
	if n, err := f.ReadAt(data, 0); n < size {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	cf, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

// Parse validates an in-memory checkpoint.
func Parse(data []byte) (*File, error) {
	return parse(data)
}

func parse(data []byte) (*File, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	metaEnd := uint64(headerSize) + uint64(hdr.MetaSize)
	if metaEnd > hdr.DataOffset || hdr.DataOffset%dataAlign != 0 {
		return nil, fmt.Errorf("%w: metadata overlaps payload", ErrCorrupt)
	}
	end := hdr.DataOffset + hdr.DataSize
	if end < hdr.DataOffset || end != uint64(len(data)) {
		return nil, fmt.Errorf("%w: payload size mismatch", ErrCorrupt)
	}

	var meta Meta
	if err := json.Unmarshal(data[headerSize:metaEnd], &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}

	index := make(map[string]int, len(meta.Tensors))
	for i, t := range meta.Tensors {
		if _, dup := index[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorrupt, t.Name)
		}
		if t.DType != "f32" {
			return nil, fmt.Errorf("%w: tensor %q has dtype %q", ErrCorrupt, t.Name, t.DType)
		}
		for _, d := range t.Shape {
			if d <= 0 {
				return nil, fmt.Errorf("%w: tensor %q shape %v", ErrCorrupt, t.Name, t.Shape)
			}
		}
		tEnd := t.Offset + t.Size
		if tEnd < t.Offset || tEnd > hdr.DataSize || t.Size != uint64(t.Elements())*4 {
			return nil, fmt.Errorf("%w: tensor %q out of bounds", ErrCorrupt, t.Name)
		}
		index[t.Name] = i
	}

	return &File{Header: hdr, Meta: meta, data: data, index: index}, nil
}

// Tensor decodes the named tensor into a fresh slice.
func (f *File) Tensor(name string) ([]float32, []int, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	t := f.Meta.Tensors[i]
	start := f.Header.DataOffset + t.Offset
	raw := f.data[start : start+t.Size]
	out := make([]float32, t.Elements())
	for j := range out {
		out[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
	}
	return out, append([]int(nil), t.Shape...), nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unmapFile(f.data)
	}
	f.data = nil
	return err
}
