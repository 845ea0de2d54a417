package forest

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/decision-forest/internal/leaf"
	"github.com/decision-forest/pkg/compression"
	"github.com/decision-forest/pkg/errors"
)

// Model bundles a packed forest with its optional leaf state.
type Model struct {
	Forest *Forest
	Leaves *leaf.Set // nil unless quantile state was requested
}

const (
	magic   = uint32(0x464f5244) // "FORD", little-endian "DROF" on disk
	version = uint32(1)
)

// Marshal encodes the model into the bit-exact serialization surface. The
// array layouts (pred as 0-based indices, bump 0 marking terminals, factor
// bits LSB-first in 32-bit words with per-tree base offsets) are preserved
// verbatim; reloading and re-walking a marshalled forest reproduces every
// prediction exactly.
func (m *Model) Marshal() ([]byte, error) {
	f := m.Forest
	var buf bytes.Buffer
	w := func(v interface{}) {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}

	w(magic)
	w(version)
	w(int32(f.NTree))
	w(int32(f.NRow))
	w(int32(f.NPredNum))
	w(int32(f.NPredFac))
	w(int32(f.NCtg))

	writeI32 := func(a []int32) {
		w(int32(len(a)))
		w(a)
	}
	writeF64 := func(a []float64) {
		w(int32(len(a)))
		w(a)
	}

	writeI32(f.Pred)
	writeF64(f.Split)
	writeF64(f.Score)
	writeI32(f.Bump)
	writeI32(f.Origin)
	writeI32(f.FacOrigin)
	w(int32(len(f.FacBits)))
	w(f.FacBits)
	w(int32(len(f.BagBits)))
	w(f.BagBits)
	writeI32(f.Cardinality)
	writeF64(f.PredInfo)

	if m.Leaves != nil {
		w(int32(1))
		writeF64(m.Leaves.YRanked)
		writeI32(m.Leaves.RankOrigin)
		writeI32(m.Leaves.Rank)
		writeI32(m.Leaves.RankCount)
		writeI32(m.Leaves.LeafPos)
		writeI32(m.Leaves.LeafExtent)
	} else {
		w(int32(0))
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a model from its serialized form.
func Unmarshal(data []byte) (*Model, error) {
	r := bytes.NewReader(data)
	var err error
	rd := func(v interface{}) {
		if err == nil {
			err = binary.Read(r, binary.LittleEndian, v)
		}
	}

	var mg, ver uint32
	rd(&mg)
	rd(&ver)
	if err != nil || mg != magic {
		return nil, errors.New(errors.CodeSerializeError, "not a forest artifact")
	}
	if ver != version {
		return nil, errors.Newf(errors.CodeSerializeError, "unsupported artifact version %d", ver)
	}

	var nTree, nRow, nPredNum, nPredFac, nCtg int32
	rd(&nTree)
	rd(&nRow)
	rd(&nPredNum)
	rd(&nPredFac)
	rd(&nCtg)

	readI32 := func() []int32 {
		var n int32
		rd(&n)
		if err != nil || n < 0 {
			err = errors.New(errors.CodeSerializeError, "corrupt length field")
			return nil
		}
		a := make([]int32, n)
		rd(a)
		return a
	}
	readF64 := func() []float64 {
		var n int32
		rd(&n)
		if err != nil || n < 0 {
			err = errors.New(errors.CodeSerializeError, "corrupt length field")
			return nil
		}
		a := make([]float64, n)
		rd(a)
		return a
	}

	f := &Forest{
		NTree:     int(nTree),
		NRow:      int(nRow),
		bagStride: (int(nRow) + 63) / 64,
		NPredNum:  int(nPredNum),
		NPredFac:  int(nPredFac),
		NCtg:      int(nCtg),
	}
	f.Pred = readI32()
	f.Split = readF64()
	f.Score = readF64()
	f.Bump = readI32()
	f.Origin = readI32()
	f.FacOrigin = readI32()

	var n int32
	rd(&n)
	f.FacBits = make([]uint32, n)
	rd(f.FacBits)
	rd(&n)
	f.BagBits = make([]uint64, n)
	rd(f.BagBits)
	f.Cardinality = readI32()
	f.PredInfo = readF64()

	m := &Model{Forest: f}
	var hasLeaves int32
	rd(&hasLeaves)
	if hasLeaves == 1 {
		leaves := leaf.NewSet(readF64())
		leaves.RankOrigin = readI32()
		leaves.Rank = readI32()
		leaves.RankCount = readI32()
		leaves.LeafPos = readI32()
		leaves.LeafExtent = readI32()
		m.Leaves = leaves
	}

	if err != nil {
		return nil, errors.Wrap(errors.CodeSerializeError, "truncated forest artifact", err)
	}
	return m, nil
}

// Save writes the model to a file with the default zstd codec.
func (m *Model) Save(path string) error {
	return m.SaveWith(path, compression.TypeZstd)
}

// SaveWith writes the model to a file using the given codec.
func (m *Model) SaveWith(path string, ctype compression.Type) error {
	out, err := m.EncodeWith(ctype)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errors.Wrap(errors.CodeSerializeError, "write forest artifact", err)
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeNotFound, "read forest artifact", err)
	}
	return Decode(data)
}

// Decode unpacks a compressed artifact produced by Save or by the model
// registry.
func Decode(data []byte) (*Model, error) {
	if len(data) < 1 {
		return nil, errors.New(errors.CodeSerializeError, "empty forest artifact")
	}
	comp, err := compression.New(compression.Type(data[0]))
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerializeError, "unknown artifact compression", err)
	}
	raw, err := comp.Decompress(data[1:])
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerializeError, "decompress forest artifact", err)
	}
	return Unmarshal(raw)
}

// Encode packs the model for storage with the default zstd codec.
func (m *Model) Encode() ([]byte, error) {
	return m.EncodeWith(compression.TypeZstd)
}

// EncodeWith packs the model for storage: a one-byte compression tag
// followed by the compressed serialization surface. Decode reads the tag,
// so artifacts written with any codec stay loadable.
func (m *Model) EncodeWith(ctype compression.Type) ([]byte, error) {
	raw, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	comp, err := compression.New(ctype)
	if err != nil {
		return nil, err
	}
	packed, err := comp.Compress(raw)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerializeError, "compress forest", err)
	}
	return append([]byte{byte(ctype)}, packed...), nil
}
