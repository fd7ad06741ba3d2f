// Package safetensors - Leser fuer das safetensors Format
//
// Dieses Modul enthaelt:
// - Open: Header lesen, Tensoren in Dateireihenfolge inventarisieren
// - File.Floats: F32, F16 und BF16 nach float32 dekodieren
// - File.Get: Tensoren fuer model.Populate bereitstellen
package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/d4l3k/go-bfloat16"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/x448/float16"

	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model"
)

var ErrInvalidHeader = errors.New("safetensors: invalid header")

// maxHeaderSize guards against reading garbage as a header length.
const maxHeaderSize = 100 << 20

type TensorInfo struct {
	DType   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

func (t TensorInfo) elements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= int64(d)
	}
	return n
}

func (t TensorInfo) elementSize() (int64, error) {
	switch t.DType {
	case "F32":
		return 4, nil
	case "F16", "BF16":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %s", t.DType)
	}
}

type File struct {
	f        *os.File
	base     int64
	size     int64
	tensors  *orderedmap.OrderedMap[string, TensorInfo]
	metadata map[string]string
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

func readHeader(f *os.File) (*File, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if n <= 0 || n > maxHeaderSize || 8+n > fi.Size() {
		return nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, n)
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err := io.CopyN(b, f, n); err != nil {
		return nil, err
	}

	raw := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(b.Bytes(), raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	st := &File{
		f:        f,
		base:     8 + n,
		size:     fi.Size() - 8 - n,
		tensors:  orderedmap.New[string, TensorInfo](),
		metadata: make(map[string]string),
	}
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == "__metadata__" {
			if err := json.Unmarshal(pair.Value, &st.metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidHeader, err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(pair.Value, &info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, pair.Key, err)
		}
		if err := st.check(info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, pair.Key, err)
		}
		st.tensors.Set(pair.Key, info)
	}
	return st, nil
}

func (st *File) check(info TensorInfo) error {
	size, err := info.elementSize()
	if err != nil {
		return err
	}
	begin, end := info.Offsets[0], info.Offsets[1]
	if begin < 0 || end < begin || end > st.size {
		return fmt.Errorf("offsets %v outside data of %d bytes", info.Offsets, st.size)
	}
	if want := info.elements() * size; end-begin != want {
		return fmt.Errorf("%d bytes for %d elements of %s", end-begin, info.elements(), info.DType)
	}
	return nil
}

// Keys lists tensor names in file order.
func (st *File) Keys() []string {
	keys := make([]string, 0, st.tensors.Len())
	for pair := st.tensors.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (st *File) Info(name string) (TensorInfo, bool) {
	return st.tensors.Get(name)
}

func (st *File) Metadata() map[string]string {
	return st.metadata
}

// Floats reads and widens one tensor to float32.
func (st *File) Floats(name string) ([]float32, []int, error) {
	info, ok := st.tensors.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", model.ErrMissingTensor, name)
	}

	buf := make([]byte, info.Offsets[1]-info.Offsets[0])
	if _, err := st.f.ReadAt(buf, st.base+info.Offsets[0]); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}

	shape := append([]int(nil), info.Shape...)
	switch info.DType {
	case "F32":
		out := make([]float32, info.elements())
		if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, out); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		return out, shape, nil
	case "F16":
		out := make([]float32, info.elements())
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
		}
		return out, shape, nil
	case "BF16":
		return bfloat16.DecodeFloat32(buf), shape, nil
	}
	return nil, nil, fmt.Errorf("%s: unsupported dtype %s", name, info.DType)
}

// Get implements model.WeightSource. Scalars become one element tensors.
func (st *File) Get(ctx ml.Context, name string) (ml.Tensor, error) {
	data, shape, err := st.Floats(name)
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	return ctx.FromFloats(data, shape...), nil
}

func (st *File) Close() error {
	return st.f.Close()
}
