package oprf

import (
	"fmt"
	"os"

	"psi"

	"github.com/gtank/ristretto255"
)

// KeySize is the size of a saved key.
const KeySize = 32

// Key is the server's secret OPRF scalar. It is an owned resource: copies are
// made with Clone and the scalar is wiped with Destroy.
type Key struct {
	s *ristretto255.Scalar
}

// NewKey samples a fresh random key.
func NewKey() (*Key, error) {
	s, err := randomScalar()
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "sample oprf key")
	}
	return &Key{s: s}, nil
}

// LoadKey parses a key produced by Save.
func LoadKey(b []byte) (*Key, error) {
	if len(b) != KeySize {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "oprf key must be %d bytes, got %d", KeySize, len(b))
	}
	s, err := ristretto255.NewScalar().SetCanonicalBytes(b)
	if err != nil {
		return nil, psi.Wrap(psi.ErrInvalidArgument, err, "decode oprf key")
	}
	if s.Equal(ristretto255.NewScalar()) == 1 {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "oprf key is zero")
	}
	return &Key{s: s}, nil
}

func LoadKeyFile(path string) (*Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return LoadKey(b)
}

func (k *Key) Save() []byte {
	return k.s.Bytes()
}

func (k *Key) SaveFile(path string) error {
	return os.WriteFile(path, k.Save(), 0600)
}

// Clone returns an independent copy of k.
func (k *Key) Clone() *Key {
	return &Key{s: ristretto255.NewScalar().Set(k.s)}
}

// Destroy wipes the key. A destroyed key is invalid.
func (k *Key) Destroy() {
	if k.s != nil {
		k.s.Zero()
		k.s = nil
	}
}

// Valid reports whether k holds a usable scalar.
func (k *Key) Valid() bool {
	return k != nil && k.s != nil
}

// Equal reports whether both keys hold the same scalar.
func (k *Key) Equal(other *Key) bool {
	return k.Valid() && other.Valid() && k.s.Equal(other.s) == 1
}

// EvaluateBlinded multiplies every blinded element by the key.
func (k *Key) EvaluateBlinded(blinded [][]byte) ([][]byte, error) {
	if !k.Valid() {
		return nil, psi.Errorf(psi.ErrInvalidState, "oprf key destroyed")
	}
	out := make([][]byte, len(blinded))
	for i := range blinded {
		e, err := ristretto255.NewElement().SetCanonicalBytes(blinded[i])
		if err != nil {
			return nil, psi.Wrapf(psi.ErrMalformedMessage, err, "decode blinded element %d", i)
		}
		out[i] = ristretto255.NewElement().ScalarMult(k.s, e).Bytes()
	}
	return out, nil
}

// Evaluate computes the OPRF outputs of items directly, as the server does
// when building its database.
func (k *Key) Evaluate(items []psi.Item) ([]psi.HashedItem, []psi.LabelKey, error) {
	if !k.Valid() {
		return nil, nil, psi.Errorf(psi.ErrInvalidState, "oprf key destroyed")
	}
	hashed := make([]psi.HashedItem, len(items))
	keys := make([]psi.LabelKey, len(items))
	for i := range items {
		e := ristretto255.NewElement().ScalarMult(k.s, hashToGroup(items[i]))
		hashed[i], keys[i] = finalize(items[i], e)
	}
	return hashed, keys, nil
}
