// Package oprf implements the blinding scheme: a 2HashDH OPRF over
// ristretto255. The client blinds items, the server multiplies by its secret
// scalar, and the client unblinds and derives a HashedItem and a LabelKey per
// item.
package oprf

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"io"

	"psi"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/hkdf"
)

const (
	// ElementSize is the size of an encoded group element.
	ElementSize = 32

	hashToGroupDST = "psi-oprf-v1-HashToGroup-ristretto255-SHA512"
	finalizeInfo   = "psi-oprf-v1-Finalize"
)

func hashToGroup(item psi.Item) *ristretto255.Element {
	h := sha512.New()
	h.Write([]byte(hashToGroupDST))
	h.Write(item[:])
	e, err := ristretto255.NewElement().SetUniformBytes(h.Sum(nil))
	if err != nil {
		// SHA-512 output is always 64 bytes.
		panic(err)
	}
	return e
}

func randomScalar() (*ristretto255.Scalar, error) {
	var buf [64]byte
	zero := ristretto255.NewScalar()
	for {
		if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
			return nil, err
		}
		s, err := ristretto255.NewScalar().SetUniformBytes(buf[:])
		if err != nil {
			return nil, err
		}
		if s.Equal(zero) == 0 {
			return s, nil
		}
	}
}

// finalize derives the OPRF output of item from its evaluated element.
func finalize(item psi.Item, evaluated *ristretto255.Element) (psi.HashedItem, psi.LabelKey) {
	info := make([]byte, 0, len(finalizeInfo)+psi.ItemSize)
	info = append(info, finalizeInfo...)
	info = append(info, item[:]...)

	var out [psi.ItemSize + psi.LabelKeySize]byte
	kdf := hkdf.New(sha256.New, evaluated.Bytes(), nil, info)
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes.
		panic(err)
	}

	var h psi.HashedItem
	var k psi.LabelKey
	copy(h[:], out[:psi.ItemSize])
	copy(k[:], out[psi.ItemSize:])
	return h, k
}

// Blinding is the client-side context of one OPRF round. It is consumed by
// a successful Finalize.
type Blinding struct {
	items    []psi.Item
	inverses []*ristretto255.Scalar
}

// Blind creates a blinding context for items and the encoded blinded
// elements to send to the server.
func Blind(items []psi.Item) (*Blinding, [][]byte, error) {
	if len(items) == 0 {
		return nil, nil, psi.Errorf(psi.ErrInvalidArgument, "no items to blind")
	}
	b := &Blinding{
		items:    append([]psi.Item(nil), items...),
		inverses: make([]*ristretto255.Scalar, len(items)),
	}
	req := make([][]byte, len(items))
	for i := range items {
		r, err := randomScalar()
		if err != nil {
			return nil, nil, psi.Wrap(psi.ErrProtocolFailure, err, "sample blinding scalar")
		}
		req[i] = ristretto255.NewElement().ScalarMult(r, hashToGroup(items[i])).Bytes()
		b.inverses[i] = ristretto255.NewScalar().Invert(r)
	}
	return b, req, nil
}

// Len is the number of items in the round, or 0 once consumed.
func (b *Blinding) Len() int {
	return len(b.inverses)
}

// Finalize unblinds the server's evaluated elements, in request order. On
// failure the context stays usable.
func (b *Blinding) Finalize(evaluated [][]byte) ([]psi.HashedItem, []psi.LabelKey, error) {
	if b.inverses == nil {
		return nil, nil, psi.Errorf(psi.ErrInvalidState, "blinding context already consumed")
	}
	if len(evaluated) != len(b.inverses) {
		return nil, nil, psi.Errorf(psi.ErrMalformedMessage,
			"got %d evaluated elements for %d items", len(evaluated), len(b.inverses))
	}

	hashed := make([]psi.HashedItem, len(evaluated))
	keys := make([]psi.LabelKey, len(evaluated))
	for i := range evaluated {
		e, err := ristretto255.NewElement().SetCanonicalBytes(evaluated[i])
		if err != nil {
			return nil, nil, psi.Wrapf(psi.ErrMalformedMessage, err, "decode evaluated element %d", i)
		}
		hashed[i], keys[i] = finalize(b.items[i], ristretto255.NewElement().ScalarMult(b.inverses[i], e))
	}

	b.Destroy()
	return hashed, keys, nil
}

// Destroy zeroises the blinding scalars.
func (b *Blinding) Destroy() {
	for _, s := range b.inverses {
		s.Zero()
	}
	b.inverses = nil
	b.items = nil
}
