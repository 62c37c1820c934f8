package label

import (
	"testing"

	"psi"
	"psi/params"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

func TestRoundTrip(t *testing.T) {
	key := psi.LabelKey{1, 2, 3}
	enc, err := Encrypt(key, []byte("label"), 20)
	assert.NilError(t, err)
	assert.Equal(t, len(enc), EncryptedSize(20))
	assert.Equal(t, EncryptedSize(20), 20+params.LabelNonceSize)

	got, err := Decrypt(key, enc)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, []byte("label"))
}

func TestFreshNonces(t *testing.T) {
	key := psi.LabelKey{9}
	a, err := Encrypt(key, []byte("same"), 8)
	assert.NilError(t, err)
	b, err := Encrypt(key, []byte("same"), 8)
	assert.NilError(t, err)
	assert.Check(t, string(a) != string(b))
}

func TestWrongKey(t *testing.T) {
	enc, err := Encrypt(psi.LabelKey{1}, []byte("secret label"), 16)
	assert.NilError(t, err)
	got, err := Decrypt(psi.LabelKey{2}, enc)
	assert.NilError(t, err)
	assert.Check(t, string(got) != "secret label")
}

func TestRejects(t *testing.T) {
	_, err := Encrypt(psi.LabelKey{}, make([]byte, 9), 8)
	assert.Check(t, errors.Is(err, psi.ErrInvalidArgument))

	_, err = Decrypt(psi.LabelKey{}, make([]byte, params.LabelNonceSize-1))
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
}
