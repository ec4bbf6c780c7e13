// Package bloom implements a per-block approximate membership filter
// policy parameterized by bits-per-key, using the double-hashing probe
// derivation from LevelDB's util/bloom.cc.
package bloom

import "math/bits"

// DefaultBitsPerKey is the default filter density, yielding roughly a 1%
// false positive rate.
const DefaultBitsPerKey = 10

// Policy builds and queries Bloom filters for a configured bits-per-key
// density.
type Policy struct {
	bitsPerKey int
	k          int
}

// NewPolicy returns a Policy using bitsPerKey bits of filter storage per
// key. The number of hash probes k is derived as
// round_down(bitsPerKey * ln 2), clamped to [1, 30].
func NewPolicy(bitsPerKey int) *Policy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	k := int(float64(bitsPerKey) * 0.69314718055994530942) // ln(2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &Policy{bitsPerKey: bitsPerKey, k: k}
}

// Name identifies the policy, matching the metaindex key convention
// "filter.<name>" recorded in a table's filter block.
func (p *Policy) Name() string { return "boulder.BuiltinBloomFilter" }

// hash32 computes LevelDB's 32-bit Murmur-derived hash with the fixed seed
// 0xbc9f1d34 used to build the base hash for double-hashing.
func hash32(data []byte) uint32 {
	const (
		seed = uint32(0xbc9f1d34)
		m    = uint32(0xc6a4a793)
		r    = 24
	)
	h := seed ^ (uint32(len(data)) * m)
	for len(data) >= 4 {
		w := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
		h += w
		h *= m
		h ^= h >> 16
		data = data[4:]
	}
	switch len(data) {
	case 3:
		h += uint32(data[2]) << 16
		fallthrough
	case 2:
		h += uint32(data[1]) << 8
		fallthrough
	case 1:
		h += uint32(data[0])
		h *= m
		h ^= h >> r
	}
	return h
}

// Build encodes a Bloom filter covering keys, appending it to dst. The
// encoded layout is bitmap || uint8 k, so a reader can recover the number
// of probes used at encode time.
func (p *Policy) Build(dst []byte, keys [][]byte) []byte {
	if len(keys) == 0 {
		// An empty filter unambiguously means "definitely not present" for
		// any key.
		return dst
	}

	bitsN := len(keys) * p.bitsPerKey
	if bitsN < 64 {
		bitsN = 64
	}
	bytesN := (bitsN + 7) / 8
	bitsN = bytesN * 8

	base := len(dst)
	dst = append(dst, make([]byte, bytesN)...)
	dst = append(dst, byte(p.k))
	array := dst[base : base+bytesN]

	for _, key := range keys {
		h := hash32(key)
		delta := bits.RotateLeft32(h, 17)
		for i := 0; i < p.k; i++ {
			bitpos := h % uint32(bitsN)
			array[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}
	return dst
}

// KeyMayMatch reports whether key may be present in the filter previously
// produced by Build. A false return is a definite negative; a true return
// may be a false positive.
func KeyMayMatch(filter []byte, key []byte) bool {
	n := len(filter)
	if n < 1 {
		return false
	}
	k := int(filter[n-1])
	if k > 30 {
		// Reserved for future encodings; be conservative.
		return true
	}
	array := filter[:n-1]
	bitsN := uint32(len(array)) * 8
	if bitsN == 0 {
		return false
	}

	h := hash32(key)
	delta := bits.RotateLeft32(h, 17)
	for i := 0; i < k; i++ {
		bitpos := h % bitsN
		if array[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
