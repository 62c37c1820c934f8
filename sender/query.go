package sender

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"psi"
	"psi/he"
	"psi/wire"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/sync/errgroup"
)

// maskSource draws uniform masks in [1, t-1] from a fresh chacha20 stream.
type maskSource struct {
	stream *chacha20.Cipher
	t      uint64
	buf    []byte
}

func newMaskSource(t uint64, n int) (*maskSource, error) {
	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	return &maskSource{stream: stream, t: t, buf: make([]byte, 8*n)}, nil
}

func (m *maskSource) vector(n int) []uint64 {
	buf := m.buf[:8*n]
	for i := range buf {
		buf[i] = 0
	}
	m.stream.XORKeyStream(buf, buf)
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])%(m.t-1) + 1
	}
	return out
}

// parseQuery decodes and validates a query against db. Nothing is written
// before the query is known to be well formed.
func (db *DB) parseQuery(query []byte) ([]*he.Ciphertext, error) {
	var req wire.QueryRequest
	if err := wire.Decode(query, &req); err != nil {
		return nil, err
	}
	if len(req.Ciphertexts) != db.ps.BundleIdxCount() {
		return nil, psi.Errorf(psi.ErrMalformedMessage,
			"query has %d ciphertexts, want %d", len(req.Ciphertexts), db.ps.BundleIdxCount())
	}
	ev := db.evals.Get().(*he.Evaluator)
	defer db.evals.Put(ev)
	cts := make([]*he.Ciphertext, len(req.Ciphertexts))
	for i, b := range req.Ciphertexts {
		ct, err := ev.UnmarshalQuery(b)
		if err != nil {
			return nil, psi.Wrapf(psi.ErrMalformedMessage, err, "query ciphertext %d", i)
		}
		cts[i] = ct
	}
	return cts, nil
}

// answer evaluates every bundle on a pool of threads workers and streams the
// parts to rw in completion order. A failed worker leaves rw short of the
// declared count.
func (db *DB) answer(cts []*he.Ciphertext, threads int, rw *wire.ResponseWriter) (int, error) {
	if err := rw.WriteCount(len(db.bundles)); err != nil {
		return 0, err
	}
	var g errgroup.Group
	g.SetLimit(threadCount(threads))
	for _, bb := range db.bundles {
		bb := bb
		g.Go(func() error {
			ev := db.evals.Get().(*he.Evaluator)
			defer db.evals.Put(ev)
			part, err := bb.evaluate(ev, cts[bb.idx], db.ps.PlainModulus(), db.ps.LabelPartCount())
			if err != nil {
				return err
			}
			return rw.WritePart(part)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(db.bundles), nil
}

// evaluate computes, for every row r, match = (q - Y_r) * R and, per label
// part p, label = (q - Y_r) * R' + L_{r,p}, with fresh masks R and R'.
func (bb *binBundle) evaluate(ev *he.Evaluator, query *he.Ciphertext, t uint64, labelParts int) (*wire.ResultPart, error) {
	n := ev.Slots()
	masks, err := newMaskSource(t, n)
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "seed masks")
	}
	part := &wire.ResultPart{
		BundleIdx: uint32(bb.idx),
		Match:     make([][]byte, len(bb.rows)),
	}
	if labelParts > 0 {
		part.Labels = make([][][]byte, len(bb.rows))
	}
	for r := range bb.rows {
		diff, err := ev.Sub(query, bb.items[r])
		if err != nil {
			return nil, err
		}
		if part.Match[r], err = ev.Mask(diff, masks.vector(n), nil); err != nil {
			return nil, err
		}
		if labelParts == 0 {
			continue
		}
		part.Labels[r] = make([][]byte, labelParts)
		for p := 0; p < labelParts; p++ {
			if part.Labels[r][p], err = ev.Mask(diff, masks.vector(n), bb.labels[r][p]); err != nil {
				return nil, err
			}
		}
	}
	return part, nil
}
