package tablet

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// BloomFilter is the optional per-DiskRowSet key filter of spec §4.D
// "(optionally) a bloom CFile", letting FindRowIDByKey short-circuit a miss
// without touching the key-index CFile. Double hashing (Kirsch-Mitzenmacher)
// derives all k probe positions from one xxhash64 sum, the way a single fast
// hash is stretched in the teacher's codebase wherever multiple probes are
// needed from one digest.
type BloomFilter struct {
	bits      []uint64
	numBits   uint64
	numHashes int
}

// NewBloomFilter sizes a filter for expectedKeys entries at the given target
// false-positive rate (e.g. 0.01 for 1%).
func NewBloomFilter(expectedKeys int, falsePositiveRate float64) *BloomFilter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(expectedKeys)
	m := math.Ceil(-1 * n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	numBits := uint64(m)
	if numBits < 64 {
		numBits = 64
	}
	k := int(math.Round((float64(numBits) / float64(expectedKeys)) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 16 {
		k = 16
	}
	words := (numBits + 63) / 64
	return &BloomFilter{bits: make([]uint64, words), numBits: words * 64, numHashes: k}
}

func (bf *BloomFilter) probes(key []byte) (h1, h2 uint64) {
	h1 = xxhash.Sum64(key)
	h2 = xxhash.Sum64([]byte{byte(h1), byte(h1 >> 8), byte(h1 >> 16), byte(h1 >> 24)})
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := bf.probes(key)
	for i := 0; i < bf.numHashes; i++ {
		pos := (h1 + uint64(i)*h2) % bf.numBits
		bf.bits[pos/64] |= 1 << uint(pos%64)
	}
}

// MayContain reports false only if key is definitely absent.
func (bf *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := bf.probes(key)
	for i := 0; i < bf.numHashes; i++ {
		pos := (h1 + uint64(i)*h2) % bf.numBits
		if bf.bits[pos/64]&(1<<uint(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Serialize produces the opaque blob stored verbatim in the bloom block.
func (bf *BloomFilter) Serialize() []byte {
	out := make([]byte, 16+8*len(bf.bits))
	binary.LittleEndian.PutUint64(out[0:8], bf.numBits)
	binary.LittleEndian.PutUint64(out[8:16], uint64(bf.numHashes))
	for i, w := range bf.bits {
		binary.LittleEndian.PutUint64(out[16+8*i:24+8*i], w)
	}
	return out
}

func DeserializeBloomFilter(buf []byte) (*BloomFilter, error) {
	if len(buf) < 16 {
		return nil, kuduerr.NewCorruption("bloom filter blob truncated")
	}
	numBits := binary.LittleEndian.Uint64(buf[0:8])
	numHashes := binary.LittleEndian.Uint64(buf[8:16])
	rest := buf[16:]
	if uint64(len(rest)) != (numBits/64)*8 {
		return nil, kuduerr.NewCorruption("bloom filter blob has inconsistent length")
	}
	words := make([]uint64, numBits/64)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(rest[8*i : 8*i+8])
	}
	return &BloomFilter{bits: words, numBits: numBits, numHashes: int(numHashes)}, nil
}
