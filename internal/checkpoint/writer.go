package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Write stores tensors and meta at path. The file is written to a temporary
// sibling and renamed into place. meta.Tensors is filled in by Write.
func Write(path string, meta Meta, tensors []Tensor) error {
	if len(tensors) == 0 {
		return fmt.Errorf("checkpoint: no tensors to write")
	}
	seen := make(map[string]bool, len(tensors))
	meta.Tensors = meta.Tensors[:0:0]
	var off uint64
	for _, t := range tensors {
		if t.Name == "" || seen[t.Name] {
			return fmt.Errorf("checkpoint: duplicate or empty tensor name %q", t.Name)
		}
		seen[t.Name] = true
		info := TensorInfo{Name: t.Name, DType: "f32", Shape: t.Shape}
		if info.Elements() != len(t.Data) {
			return fmt.Errorf("checkpoint: tensor %s shape %v does not match %d values", t.Name, t.Shape, len(t.Data))
		}
		off = alignUp(off, dataAlign)
		info.Offset = off
		info.Size = uint64(len(t.Data)) * 4
		off += info.Size
		meta.Tensors = append(meta.Tensors, info)
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("checkpoint: encode metadata: %w", err)
	}
	hdr := Header{
		Major:      CurrentMajor,
		Minor:      CurrentMinor,
		MetaSize:   uint32(len(metaBytes)),
		DataOffset: alignUp(headerSize+uint64(len(metaBytes)), dataAlign),
		DataSize:   off,
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriterSize(tmp, 1<<20)
	var pos uint64
	write := func(b []byte) error {
		n, err := w.Write(b)
		pos += uint64(n)
		return err
	}
	pad := func(to uint64) error {
		if to > pos {
			return write(make([]byte, to-pos))
		}
		return nil
	}

	err = write(hdr.encode())
	if err == nil {
		err = write(metaBytes)
	}
	var scratch [4]byte
	for i := 0; err == nil && i < len(tensors); i++ {
		if err = pad(hdr.DataOffset + meta.Tensors[i].Offset); err != nil {
			break
		}
		for _, v := range tensors[i].Data {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
			if err = write(scratch[:]); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}
