// Package weights stores module parameters in the SafeTensors format.
//
// Layout:
//
//	[8 bytes: header size, uint64 little-endian]
//	[header: JSON object name -> {dtype, shape, data_offsets}, plus __metadata__]
//	[tensor data, in name order]
//
// Only F32 tensors are read and written.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Limits applied when reading untrusted files.
const (
	MaxHeaderSize    = 100 * 1024 * 1024
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

const metadataKey = "__metadata__"

type headerEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Write encodes tensors and optional metadata. Tensors are written in
// name order.
func Write(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		shape := make([]int64, len(raw.Shape()))
		for i, d := range raw.Shape() {
			shape[i] = int64(d)
		}
		size := int64(raw.NumElements() * 4)
		header[name] = headerEntry{DType: "F32", Shape: shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if err := binary.Write(w, binary.LittleEndian, tensors[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

type tensorMeta struct {
	name         string
	shape        tensor.Shape
	offset, size int64
}

// Read decodes a SafeTensors stream into tensors and metadata.
func Read(r io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var metadata map[string]string
	if raw, ok := entries[metadataKey]; ok {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
		delete(entries, metadataKey)
	}
	if len(entries) > MaxTensorCount {
		return nil, nil, &ValidationError{Type: "too_many_tensors", Details: fmt.Sprintf("got %d, max %d", len(entries), MaxTensorCount)}
	}

	metas := make([]tensorMeta, 0, len(entries))
	for name, raw := range entries {
		if err := validateName(name); err != nil {
			return nil, nil, err
		}
		var e headerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		if e.DType != "F32" {
			return nil, nil, fmt.Errorf("%w %s for tensor %q", ErrUnsupportedDType, e.DType, name)
		}
		m, err := newMeta(name, e)
		if err != nil {
			return nil, nil, err
		}
		metas = append(metas, m)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := validateOffsets(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}

	tensors := make(map[string]*tensor.RawTensor, len(metas))
	for _, m := range metas {
		values := make([]float32, m.size/4)
		chunk := data[m.offset : m.offset+m.size]
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk[4*i:]))
		}
		raw, err := tensor.RawFromSlice(values, m.shape)
		if err != nil {
			return nil, nil, fmt.Errorf("tensor %q: %w", m.name, err)
		}
		tensors[m.name] = raw
	}
	return tensors, metadata, nil
}

func newMeta(name string, e headerEntry) (tensorMeta, error) {
	shape := make(tensor.Shape, len(e.Shape))
	elements := int64(1)
	for i, d := range e.Shape {
		if d <= 0 || d > math.MaxInt32 {
			return tensorMeta{}, &ValidationError{Type: "invalid_shape", Tensor: name, Details: fmt.Sprintf("%v", e.Shape)}
		}
		shape[i] = int(d)
		elements *= d
		if elements > math.MaxInt32 {
			return tensorMeta{}, &ValidationError{Type: "invalid_shape", Tensor: name, Details: fmt.Sprintf("%v has too many elements", e.Shape)}
		}
	}
	offset, end := e.DataOffsets[0], e.DataOffsets[1]
	if offset < 0 || end < offset {
		return tensorMeta{}, &ValidationError{Type: "negative_offset", Tensor: name, Details: fmt.Sprintf("offsets [%d, %d]", offset, end)}
	}
	if end-offset != elements*4 {
		return tensorMeta{}, &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, offsets span %d", e.Shape, elements*4, end-offset),
		}
	}
	return tensorMeta{name: name, shape: shape, offset: offset, size: end - offset}, nil
}

func validateName(name string) error {
	switch {
	case len(name) > MaxTensorNameLen:
		return &ValidationError{Type: "name_too_long", Tensor: name[:64], Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen)}
	case name == "":
		return &ValidationError{Type: "invalid_name", Details: "empty tensor name"}
	case strings.Contains(name, "\x00"):
		return &ValidationError{Type: "invalid_name", Tensor: name, Details: "contains null byte"}
	}
	return nil
}

// validateOffsets rejects tensors that overlap or extend past the data.
func validateOffsets(metas []tensorMeta, dataSize int64) error {
	sorted := append([]tensorMeta(nil), metas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })
	for i, m := range sorted {
		if m.offset+m.size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  m.name,
				Details: fmt.Sprintf("offset %d + size %d > data size %d", m.offset, m.size, dataSize),
			}
		}
		if i+1 < len(sorted) {
			next := sorted[i+1]
			if m.offset+m.size > next.offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Tensor:  m.name,
					Tensor2: next.name,
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", m.offset, m.offset+m.size, next.offset, next.offset+next.size),
				}
			}
		}
	}
	return nil
}
