package hashing

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Type tags keep differently typed values with equal bytes apart.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagString
	tagBytes
	tagHash128
	tagGUID
	tagRawHash
	tagList
	tagRecord
)

// Hashable is implemented by records that contribute their fields to a hash.
type Hashable interface {
	AppendHash(b *Builder)
}

// Builder accumulates framed values into a BLAKE3 digest.
type Builder struct {
	h   *blake3.Hasher
	buf [binary.MaxVarintLen64]byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{h: blake3.New()}
}

// Add appends values in order. Unsupported types panic.
func (b *Builder) Add(values ...any) *Builder {
	for _, value := range values {
		b.add(value)
	}
	return b
}

// Sum returns the digest of everything added so far.
func (b *Builder) Sum() RawHash {
	var r RawHash
	copy(r[:], b.h.Sum(nil))
	return r
}

//nolint:gocyclo,cyclop // one case per supported type
func (b *Builder) add(value any) {
	switch v := value.(type) {
	case nil:
		b.tag(tagNil)
	case bool:
		b.tag(tagBool)
		if v {
			b.raw([]byte{1})
		} else {
			b.raw([]byte{0})
		}
	case int:
		b.int(int64(v))
	case int8:
		b.int(int64(v))
	case int16:
		b.int(int64(v))
	case int32:
		b.int(int64(v))
	case int64:
		b.int(v)
	case uint:
		b.uint(uint64(v))
	case uint8:
		b.uint(uint64(v))
	case uint16:
		b.uint(uint64(v))
	case uint32:
		b.uint(uint64(v))
	case uint64:
		b.uint(v)
	case string:
		b.tag(tagString)
		b.length(len(v))
		_, _ = io.WriteString(b.h, v)
	case []byte:
		b.tag(tagBytes)
		b.length(len(v))
		b.raw(v)
	case Hash128:
		b.tag(tagHash128)
		b.raw(v[:])
	case GUID:
		b.tag(tagGUID)
		b.raw(v[:])
	case RawHash:
		b.tag(tagRawHash)
		b.raw(v[:])
	case Hashable:
		b.tag(tagRecord)
		v.AppendHash(b)
	case []string:
		b.list(len(v), func(i int) { b.add(v[i]) })
	case []GUID:
		b.list(len(v), func(i int) { b.add(v[i]) })
	case []Hash128:
		b.list(len(v), func(i int) { b.add(v[i]) })
	case []RawHash:
		b.list(len(v), func(i int) { b.add(v[i]) })
	case []any:
		b.list(len(v), func(i int) { b.add(v[i]) })
	default:
		panic(fmt.Sprintf("hashing: unsupported type %T", value))
	}
}

func (b *Builder) list(n int, each func(i int)) {
	b.tag(tagList)
	b.length(n)
	for i := range n {
		each(i)
	}
}

func (b *Builder) int(v int64) {
	b.tag(tagInt)
	n := binary.PutVarint(b.buf[:], v)
	b.raw(b.buf[:n])
}

func (b *Builder) uint(v uint64) {
	b.tag(tagUint)
	n := binary.PutUvarint(b.buf[:], v)
	b.raw(b.buf[:n])
}

func (b *Builder) length(n int) {
	size := binary.PutUvarint(b.buf[:], uint64(n))
	b.raw(b.buf[:size])
}

func (b *Builder) tag(t byte) {
	b.raw([]byte{t})
}

func (b *Builder) raw(p []byte) {
	_, _ = b.h.Write(p)
}

// Calculate hashes values in order.
func Calculate(values ...any) RawHash {
	return NewBuilder().Add(values...).Sum()
}

// CalculateStream hashes everything readable from r.
func CalculateStream(r io.Reader) (RawHash, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return RawHash{}, err
	}
	var out RawHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// CalculateFile hashes the whole content of the file at path.
func CalculateFile(path string) (RawHash, error) {
	return CalculateFileFrom(path, 0)
}

// CalculateFileFrom hashes the file at path starting at offset.
func CalculateFileFrom(path string, offset int64) (RawHash, error) {
	//nolint:gosec // path points at a build artifact or a project source file.
	f, err := os.Open(path)
	if err != nil {
		return RawHash{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return RawHash{}, err
		}
	}
	return CalculateStream(f)
}
