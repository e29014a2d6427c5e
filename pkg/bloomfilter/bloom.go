// Package bloomfilter provides a concurrency-safe Bloom filter keyed by
// strings. Threat-feed lookups use it as a cheap negative oracle: a miss
// means the subject is definitely not in the feed, a hit means the full
// entry map has to be consulted.
package bloomfilter

import (
	"hash/maphash"
	"math"
	"math/bits"
	"sync"
)

// Filter is a fixed-size Bloom filter. Membership answers are one-sided:
// false is authoritative, true may be a false positive.
type Filter struct {
	mu    sync.RWMutex
	words []uint64
	nbits uint64
	k     uint64
	n     uint64
	seed  maphash.Seed
}

// New sizes a filter for the expected number of entries at the given false
// positive rate. Out-of-range arguments fall back to 1000 entries at 1%.
func New(expected uint, fpRate float64) *Filter {
	if expected == 0 {
		expected = 1000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}

	nbits := uint64(math.Ceil(-float64(expected) * math.Log(fpRate) / (math.Ln2 * math.Ln2)))
	k := uint64(math.Ceil(float64(nbits) / float64(expected) * math.Ln2))

	return &Filter{
		words: make([]uint64, (nbits+63)/64),
		nbits: nbits,
		k:     k,
		seed:  maphash.MakeSeed(),
	}
}

// Add records a key.
func (f *Filter) Add(key string) {
	h1, h2 := f.hashes(key)

	f.mu.Lock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.nbits
		f.words[pos/64] |= 1 << (pos % 64)
	}
	f.n++
	f.mu.Unlock()
}

// Contains reports whether key might have been added. A false result is
// definitive.
func (f *Filter) Contains(key string) bool {
	h1, h2 := f.hashes(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.k; i++ {
		pos := (h1 + i*h2) % f.nbits
		if f.words[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.n
}

// FillRatio returns the fraction of bits set. Ratios past 0.5 mean the
// filter was sized for fewer entries than it holds and false positives
// climb quickly.
func (f *Filter) FillRatio() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var set int
	for _, w := range f.words {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(f.nbits)
}

// hashes derives the two base hashes for double hashing from one maphash
// pass over the key.
func (f *Filter) hashes(key string) (uint64, uint64) {
	sum := maphash.String(f.seed, key)
	return sum, bits.RotateLeft64(sum, 32) | 1
}
