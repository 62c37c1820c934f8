// Package cuckoo implements the location functions and the cuckoo table
// shared by both parties. The client places each hashed item in exactly one
// of its locations; the server stores every item in all of them.
package cuckoo

import (
	"math/rand"

	"psi"
	"psi/params"

	"github.com/bits-and-blooms/bitset"
	"github.com/minio/highwayhash"
	"github.com/zeebo/blake3"
)

const keyContext = "psi cuckoo"

// Hasher evaluates the location functions of a parameter set.
type Hasher struct {
	keys [][]byte
	size uint64
}

// NewHasher derives one highwayhash key per location function.
func NewHasher(ps params.ParameterSet) *Hasher {
	h := &Hasher{
		keys: make([][]byte, ps.HashFuncCount()),
		size: uint64(ps.TableSize()),
	}
	hasher := blake3.New()
	for j := range h.keys {
		hasher.Reset()
		hasher.Write([]byte(keyContext))
		hasher.Write([]byte{byte(j)})
		h.keys[j] = hasher.Sum(nil)
	}
	return h
}

// Locations returns the distinct bins of item, in location function order.
func (h *Hasher) Locations(item psi.HashedItem) []int {
	locs := make([]int, 0, len(h.keys))
	for _, key := range h.keys {
		loc := int(highwayhash.Sum64(item[:], key) % h.size)
		dup := false
		for _, l := range locs {
			if l == loc {
				dup = true
				break
			}
		}
		if !dup {
			locs = append(locs, loc)
		}
	}
	return locs
}

// Table is a cuckoo hash table of HashedItems.
type Table struct {
	hasher       *Hasher
	bins         []psi.HashedItem
	occupied     *bitset.BitSet
	maxEvictions int
	rnd          *rand.Rand
}

// NewTable returns an empty table for ps. Insertion gives up after a number
// of evictions proportional to the table size.
func NewTable(ps params.ParameterSet) *Table {
	return &Table{
		hasher:       NewHasher(ps),
		bins:         make([]psi.HashedItem, ps.TableSize()),
		occupied:     bitset.New(uint(ps.TableSize())),
		maxEvictions: 100 + 10*ps.TableSize(),
		rnd:          rand.New(rand.NewSource(int64(ps.TableSize()))),
	}
}

// Insert places item in the table. Inserting an item already present is a
// no-op. When insertion fails the table has lost an item and must be
// discarded.
func (t *Table) Insert(item psi.HashedItem) error {
	if _, ok := t.Find(item); ok {
		return nil
	}
	cur := item
	for i := 0; i <= t.maxEvictions; i++ {
		locs := t.hasher.Locations(cur)
		for _, l := range locs {
			if !t.occupied.Test(uint(l)) {
				t.bins[l] = cur
				t.occupied.Set(uint(l))
				return nil
			}
		}
		l := locs[t.rnd.Intn(len(locs))]
		cur, t.bins[l] = t.bins[l], cur
	}
	return psi.Errorf(psi.ErrProtocolFailure, "cuckoo insertion failed after %d evictions", t.maxEvictions)
}

// Find returns the bin holding item.
func (t *Table) Find(item psi.HashedItem) (int, bool) {
	for _, l := range t.hasher.Locations(item) {
		if t.occupied.Test(uint(l)) && t.bins[l] == item {
			return l, true
		}
	}
	return 0, false
}

// Get returns the item in bin, if any.
func (t *Table) Get(bin int) (psi.HashedItem, bool) {
	if !t.occupied.Test(uint(bin)) {
		return psi.HashedItem{}, false
	}
	return t.bins[bin], true
}

// Len is the number of occupied bins.
func (t *Table) Len() int {
	return int(t.occupied.Count())
}

func (t *Table) Size() int {
	return len(t.bins)
}
