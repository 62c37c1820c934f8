// Package sender holds the server side of the protocol: the reference
// database of bin bundles and the Server driver that answers OPRF and query
// requests against it.
package sender

import (
	"runtime"
	"sync"

	"psi"
	"psi/cuckoo"
	"psi/he"
	"psi/label"
	"psi/oprf"
	"psi/params"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"
)

// entry is one stored item in one of its bins.
type entry struct {
	offset int // bin offset inside the bundle
	item   psi.HashedItem
	label  []byte // encrypted label, nil when unlabeled
}

// binBundle is a block of rows sharing one bundle index. Every row packs at
// most one entry per bin.
type binBundle struct {
	idx  int
	rows [][]entry

	// Cached slot vectors, recomputed on load.
	occupied []*bitset.BitSet
	items    [][]uint64
	labels   [][][]uint64
}

// DB is an immutable reference database. It never holds the OPRF key.
type DB struct {
	ps      params.ParameterSet
	size    int
	bundles []*binBundle
	evals   sync.Pool
}

func threadCount(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// BuildDB hashes items under key and lays them out in bin bundles. Duplicate
// items are collapsed, keeping the first label. labels is nil for unlabeled
// data.
func BuildDB(key *oprf.Key, ps params.ParameterSet, items []psi.Item, labels [][]byte, threads int) (*DB, error) {
	if labels != nil && len(labels) != len(items) {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "%d labels for %d items", len(labels), len(items))
	}
	if labels != nil && !ps.Labeled() {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "parameters do not carry labels")
	}
	for i := range labels {
		if len(labels[i]) > ps.LabelByteCount() {
			return nil, psi.Errorf(psi.ErrInvalidArgument,
				"label %d has %d bytes, limit is %d", i, len(labels[i]), ps.LabelByteCount())
		}
	}

	seen := make(map[psi.Item]struct{}, len(items))
	distinct := make([]psi.Item, 0, len(items))
	var distinctLabels [][]byte
	for i, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		distinct = append(distinct, it)
		if ps.Labeled() {
			var l []byte
			if labels != nil {
				l = labels[i]
			}
			distinctLabels = append(distinctLabels, l)
		}
	}

	hashed, keys, err := evaluateParallel(key, distinct, threadCount(threads))
	if err != nil {
		return nil, err
	}

	var encLabels [][]byte
	if ps.Labeled() {
		encLabels = make([][]byte, len(distinct))
		for i := range distinct {
			if encLabels[i], err = label.Encrypt(keys[i], distinctLabels[i], ps.LabelByteCount()); err != nil {
				return nil, err
			}
		}
	}

	// Every item goes in all of its distinct locations.
	hasher := cuckoo.NewHasher(ps)
	bins := make([][]entry, ps.TableSize())
	for i, h := range hashed {
		for _, loc := range hasher.Locations(h) {
			_, off := ps.BundleOf(loc)
			e := entry{offset: off, item: h}
			if encLabels != nil {
				e.label = encLabels[i]
			}
			bins[loc] = append(bins[loc], e)
		}
	}

	var bundles []*binBundle
	for b := 0; b < ps.BundleIdxCount(); b++ {
		lo := b * ps.BinsPerBundle()
		hi := min(lo+ps.BinsPerBundle(), ps.TableSize())
		bundles = append(bundles, layoutBundles(b, bins[lo:hi], ps.MaxItemsPerBin())...)
	}

	db := &DB{ps: ps, size: len(distinct), bundles: bundles}
	if err := db.prepare(threads); err != nil {
		return nil, err
	}
	return db, nil
}

func evaluateParallel(key *oprf.Key, items []psi.Item, threads int) ([]psi.HashedItem, []psi.LabelKey, error) {
	hashed := make([]psi.HashedItem, len(items))
	keys := make([]psi.LabelKey, len(items))
	chunk := (len(items) + threads - 1) / threads
	var g errgroup.Group
	for lo := 0; lo < len(items); lo += chunk {
		lo, hi := lo, min(lo+chunk, len(items))
		g.Go(func() error {
			h, k, err := key.Evaluate(items[lo:hi])
			if err != nil {
				return err
			}
			copy(hashed[lo:], h)
			copy(keys[lo:], k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return hashed, keys, nil
}

// layoutBundles turns the bins of one bundle index into row blocks of at most
// maxRows rows. Rows are only as many as the fullest bin needs.
func layoutBundles(idx int, bins [][]entry, maxRows int) []*binBundle {
	depth := 0
	for _, b := range bins {
		depth = max(depth, len(b))
	}
	var out []*binBundle
	for start := 0; start < depth; start += maxRows {
		bb := &binBundle{idx: idx}
		for r := start; r < min(start+maxRows, depth); r++ {
			var row []entry
			for _, b := range bins {
				if r < len(b) {
					row = append(row, b[r])
				}
			}
			bb.rows = append(bb.rows, row)
		}
		out = append(out, bb)
	}
	return out
}

// prepare computes the cached slot vectors of every bundle and the evaluator
// pool.
func (db *DB) prepare(threads int) error {
	ev, err := he.NewEvaluator(db.ps)
	if err != nil {
		return err
	}
	db.evals.New = func() interface{} { return ev.ShallowCopy() }

	var g errgroup.Group
	g.SetLimit(threadCount(threads))
	for _, bb := range db.bundles {
		bb := bb
		g.Go(func() error {
			bb.cache(db.ps)
			return nil
		})
	}
	return g.Wait()
}

func (bb *binBundle) cache(ps params.ParameterSet) {
	n := ps.PolyModulusDegree()
	f := ps.FeltsPerItem()
	encLen := label.EncryptedSize(ps.LabelByteCount())

	bb.occupied = make([]*bitset.BitSet, len(bb.rows))
	bb.items = make([][]uint64, len(bb.rows))
	bb.labels = make([][][]uint64, len(bb.rows))
	for r, row := range bb.rows {
		occ := bitset.New(uint(ps.BinsPerBundle()))
		items := make([]uint64, n)
		parts := make([][]uint64, ps.LabelPartCount())
		for p := range parts {
			parts[p] = make([]uint64, n)
		}
		for _, e := range row {
			occ.Set(uint(e.offset))
			copy(items[e.offset*f:], he.ItemFelts(ps, e.item))
			if ps.Labeled() {
				lf := he.LabelFelts(ps, e.label[:encLen])
				for p := range parts {
					copy(parts[p][e.offset*f:(e.offset+1)*f], lf[p*f:])
				}
			}
		}
		bb.occupied[r] = occ
		bb.items[r] = items
		bb.labels[r] = parts
	}
}

// Params returns the parameter set the database was built with.
func (db *DB) Params() params.ParameterSet {
	return db.ps
}

// Size is the number of distinct items.
func (db *DB) Size() int {
	return db.size
}

// PackageCount is the number of result parts every query produces.
func (db *DB) PackageCount() int {
	return len(db.bundles)
}

// Stats summarizes the layout of a database.
type Stats struct {
	Items       int
	Bundles     int
	Rows        int
	FilledSlots int
	TotalSlots  int
}

func (db *DB) Stats() Stats {
	s := Stats{Items: db.size, Bundles: len(db.bundles)}
	for _, bb := range db.bundles {
		s.Rows += len(bb.rows)
		for _, occ := range bb.occupied {
			s.FilledSlots += int(occ.Count())
		}
	}
	s.TotalSlots = s.Rows * db.ps.BinsPerBundle()
	return s
}
