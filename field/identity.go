// Package field defines the stable identity of a field: a 64-bit hash over
// the parameters that shape its instances.
//
// Producers compute the identity once per frame from their own generative
// parameters, never from an engine object handle. Two fields built from
// identical parameters hash identically and share one resident allocation,
// even if the producer was destroyed and recreated in between.
//
// Collisions between genuinely different fields are not detected by the
// allocator. With a 64-bit hash space this is an accepted risk; the Manager
// does log a warning when two fields submitted in the same frame share an
// identity but disagree on kind or instance count.
package field

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Identity is the content hash of a field's generative parameters.
type Identity uint64

// String returns the identity as 16 hexadecimal digits.
func (id Identity) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Hasher accumulates field parameters into an Identity.
//
// Every value is written with a fixed-width little-endian encoding, strings
// and byte slices are length-prefixed, so distinct parameter sequences never
// produce the same byte stream.
//
//	id := field.NewHasher("grid").
//	    Float32(origin.X).Float32(origin.Z).
//	    Uint32(rows).Uint32(cols).
//	    Sum()
type Hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

// NewHasher starts a hash in the given namespace. Field kinds use their own
// namespace so that two kinds with equal parameters never alias.
func NewHasher(namespace string) *Hasher {
	h := &Hasher{d: xxhash.New()}
	return h.String(namespace)
}

// Uint32 mixes a 32-bit value.
func (h *Hasher) Uint32(v uint32) *Hasher {
	binary.LittleEndian.PutUint32(h.buf[:4], v)
	_, _ = h.d.Write(h.buf[:4]) // Digest.Write never fails
	return h
}

// Uint64 mixes a 64-bit value.
func (h *Hasher) Uint64(v uint64) *Hasher {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
	return h
}

// Int mixes a signed integer as 64 bits.
func (h *Hasher) Int(v int) *Hasher {
	return h.Uint64(uint64(int64(v))) //nolint:gosec // bit pattern only
}

// Bool mixes a boolean.
func (h *Hasher) Bool(v bool) *Hasher {
	if v {
		return h.Uint32(1)
	}
	return h.Uint32(0)
}

// Float32 mixes a float by bit pattern. Negative zero is folded into zero
// and every NaN into one canonical NaN so equal-looking parameters hash
// equally.
func (h *Hasher) Float32(v float32) *Hasher {
	switch {
	case v == 0:
		v = 0
	case math.IsNaN(float64(v)):
		v = float32(math.NaN())
	}
	return h.Uint32(math.Float32bits(v))
}

// Float64 mixes a float64 with the same canonicalization as Float32.
func (h *Hasher) Float64(v float64) *Hasher {
	switch {
	case v == 0:
		v = 0
	case math.IsNaN(v):
		v = math.NaN()
	}
	return h.Uint64(math.Float64bits(v))
}

// String mixes a length-prefixed string.
func (h *Hasher) String(s string) *Hasher {
	h.Uint64(uint64(len(s)))
	_, _ = h.d.WriteString(s)
	return h
}

// Bytes mixes a length-prefixed byte slice.
func (h *Hasher) Bytes(b []byte) *Hasher {
	h.Uint64(uint64(len(b)))
	_, _ = h.d.Write(b)
	return h
}

// Identity mixes another identity, for fields derived from other fields.
func (h *Hasher) Identity(id Identity) *Hasher {
	return h.Uint64(uint64(id))
}

// Sum returns the identity of everything written so far.
// The Hasher may keep being used afterwards.
func (h *Hasher) Sum() Identity {
	return Identity(h.d.Sum64())
}
