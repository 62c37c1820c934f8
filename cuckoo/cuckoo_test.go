package cuckoo

import (
	"math/rand"
	"testing"

	"psi"
	"psi/params"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

func randomHashed(rnd *rand.Rand, n int) []psi.HashedItem {
	out := make([]psi.HashedItem, n)
	for i := range out {
		rnd.Read(out[i][:])
	}
	return out
}

func TestLocationsAreStable(t *testing.T) {
	ps := params.Default()
	h1 := NewHasher(ps)
	h2 := NewHasher(ps)
	for _, item := range randomHashed(rand.New(rand.NewSource(17)), 100) {
		l1 := h1.Locations(item)
		assert.DeepEqual(t, l1, h2.Locations(item))
		assert.Check(t, len(l1) >= 1 && len(l1) <= ps.HashFuncCount())
		seen := map[int]bool{}
		for _, l := range l1 {
			assert.Check(t, l >= 0 && l < ps.TableSize())
			assert.Check(t, !seen[l])
			seen[l] = true
		}
	}
}

func TestInsertAndFind(t *testing.T) {
	ps := params.Default()
	table := NewTable(ps)
	items := randomHashed(rand.New(rand.NewSource(17)), ps.TableSize()/2)
	for _, item := range items {
		assert.NilError(t, table.Insert(item))
	}
	// Duplicates are absorbed.
	assert.NilError(t, table.Insert(items[0]))
	assert.Equal(t, table.Len(), len(items))

	hasher := NewHasher(ps)
	for _, item := range items {
		bin, ok := table.Find(item)
		assert.Check(t, ok)
		got, ok := table.Get(bin)
		assert.Check(t, ok)
		assert.Equal(t, got, item)
		assert.Check(t, contains(hasher.Locations(item), bin))
	}
}

func TestOverfullTableFails(t *testing.T) {
	lit := params.DefaultLiteral()
	lit.Table.TableSize = 8
	ps, err := params.New(lit)
	assert.NilError(t, err)

	table := NewTable(ps)
	var failure error
	for _, item := range randomHashed(rand.New(rand.NewSource(17)), 9) {
		if err := table.Insert(item); err != nil {
			failure = err
			break
		}
	}
	assert.Check(t, errors.Is(failure, psi.ErrProtocolFailure))
}

func contains(locs []int, bin int) bool {
	for _, l := range locs {
		if l == bin {
			return true
		}
	}
	return false
}
