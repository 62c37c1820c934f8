// Package he adapts the lattigo BGV scheme to the batched query vectors of
// the protocol. The client side (Context) owns the secret key and encrypts
// and decrypts slot vectors. The server side (Evaluator) only ever sees
// ciphertexts and computes masked differences against plaintext rows.
package he

import (
	"fmt"
	"math/bits"

	"psi"
	"psi/params"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/bgv"
)

// Parameters builds the BGV parameters described by ps. Every slot of the
// plaintext space must be addressable, so the plain modulus has to be
// 1 mod 2N.
func Parameters(ps params.ParameterSet) (bgv.Parameters, error) {
	logN := bits.Len(uint(ps.PolyModulusDegree())) - 1
	p, err := bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             logN,
		LogQ:             ps.CoeffModulusBits(),
		PlaintextModulus: ps.PlainModulus(),
	})
	if err != nil {
		return bgv.Parameters{}, psi.Wrap(psi.ErrMalformedParameters, err, "build bgv parameters")
	}
	if p.MaxSlots() != ps.PolyModulusDegree() {
		return bgv.Parameters{}, psi.Errorf(psi.ErrMalformedParameters,
			"plain modulus %d gives %d slots, need %d", ps.PlainModulus(), p.MaxSlots(), ps.PolyModulusDegree())
	}
	return p, nil
}

// Context is the client's encryption context. It is not safe for concurrent
// use.
type Context struct {
	params bgv.Parameters
	ecd    *bgv.Encoder
	enc    *rlwe.Encryptor
	dec    *rlwe.Decryptor
}

// NewContext generates a fresh secret key for ps.
func NewContext(ps params.ParameterSet) (*Context, error) {
	p, err := Parameters(ps)
	if err != nil {
		return nil, err
	}
	sk := bgv.NewKeyGenerator(p).GenSecretKeyNew()
	return &Context{
		params: p,
		ecd:    bgv.NewEncoder(p),
		enc:    bgv.NewEncryptor(p, sk),
		dec:    bgv.NewDecryptor(p, sk),
	}, nil
}

// Slots is the number of values in one plaintext vector.
func (c *Context) Slots() int {
	return c.params.MaxSlots()
}

// Encrypt encrypts a slot vector and returns the serialized ciphertext.
func (c *Context) Encrypt(values []uint64) ([]byte, error) {
	if len(values) > c.Slots() {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "%d values for %d slots", len(values), c.Slots())
	}
	pt := bgv.NewPlaintext(c.params, c.params.MaxLevel())
	if err := c.ecd.Encode(values, pt); err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "encode query vector")
	}
	ct, err := c.enc.EncryptNew(pt)
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "encrypt query vector")
	}
	out, err := ct.MarshalBinary()
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "marshal ciphertext")
	}
	return out, nil
}

// Decrypt decodes a serialized ciphertext produced by the server and returns
// its slot vector.
func (c *Context) Decrypt(b []byte) ([]uint64, error) {
	ct, err := unmarshal(c.params, b)
	if err != nil {
		return nil, err
	}
	values := make([]uint64, c.Slots())
	if err := c.ecd.Decode(c.dec.DecryptNew(ct), values); err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "decode result vector")
	}
	return values, nil
}

// Evaluator is the server's view of the scheme. An Evaluator is not safe for
// concurrent use; give each worker its own ShallowCopy.
type Evaluator struct {
	params bgv.Parameters
	eval   *bgv.Evaluator
}

func NewEvaluator(ps params.ParameterSet) (*Evaluator, error) {
	p, err := Parameters(ps)
	if err != nil {
		return nil, err
	}
	return &Evaluator{params: p, eval: bgv.NewEvaluator(p, nil)}, nil
}

// ShallowCopy returns an evaluator sharing the read-only tables of e with
// its own scratch buffers.
func (e *Evaluator) ShallowCopy() *Evaluator {
	return &Evaluator{params: e.params, eval: e.eval.ShallowCopy()}
}

func (e *Evaluator) Slots() int {
	return e.params.MaxSlots()
}

// Ciphertext is a validated query ciphertext.
type Ciphertext struct {
	ct *rlwe.Ciphertext
}

// UnmarshalQuery decodes and validates one query ciphertext.
func (e *Evaluator) UnmarshalQuery(b []byte) (*Ciphertext, error) {
	ct, err := unmarshal(e.params, b)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{ct: ct}, nil
}

// Diff is an encrypted query minus one plaintext row.
type Diff struct {
	ct *rlwe.Ciphertext
}

// Sub computes query - row slotwise.
func (e *Evaluator) Sub(query *Ciphertext, row []uint64) (*Diff, error) {
	ct, err := e.eval.SubNew(query.ct, row)
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "subtract row")
	}
	return &Diff{ct: ct}, nil
}

// Mask computes diff*mask + add slotwise and serializes the result. A nil
// add is the zero vector.
func (e *Evaluator) Mask(diff *Diff, mask, add []uint64) ([]byte, error) {
	ct, err := e.eval.MulNew(diff.ct, mask)
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "multiply mask")
	}
	if add != nil {
		if err := e.eval.Add(ct, add, ct); err != nil {
			return nil, psi.Wrap(psi.ErrProtocolFailure, err, "add label")
		}
	}
	out, err := ct.MarshalBinary()
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "marshal ciphertext")
	}
	return out, nil
}

func unmarshal(p bgv.Parameters, b []byte) (*rlwe.Ciphertext, error) {
	if len(b) == 0 {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "empty ciphertext")
	}
	ct := bgv.NewCiphertext(p, 1, p.MaxLevel())
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, psi.Wrap(psi.ErrMalformedMessage, err, "unmarshal ciphertext")
	}
	if err := checkShape(p, ct); err != nil {
		return nil, psi.Wrap(psi.ErrMalformedMessage, err, "check ciphertext")
	}
	return ct, nil
}

// checkShape rejects ciphertexts that do not belong to p: wrong degree,
// level or ring dimension, missing metadata, or coefficients out of range.
func checkShape(p bgv.Parameters, ct *rlwe.Ciphertext) error {
	switch {
	case ct.MetaData == nil:
		return fmt.Errorf("missing metadata")
	case !ct.IsNTT || !ct.IsBatched:
		return fmt.Errorf("ciphertext not in batched NTT form")
	case ct.LogDimensions != p.LogMaxDimensions():
		return fmt.Errorf("dimensions %v, want %v", ct.LogDimensions, p.LogMaxDimensions())
	case len(ct.Value) != 2:
		return fmt.Errorf("degree %d, want 1", len(ct.Value)-1)
	}
	q := p.Q()
	for _, poly := range ct.Value {
		if poly.Level() != p.MaxLevel() {
			return fmt.Errorf("level %d, want %d", poly.Level(), p.MaxLevel())
		}
		for i, coeffs := range poly.Coeffs {
			if len(coeffs) != p.N() {
				return fmt.Errorf("ring dimension %d, want %d", len(coeffs), p.N())
			}
			for _, c := range coeffs {
				if c >= q[i] {
					return fmt.Errorf("coefficient out of range")
				}
			}
		}
	}
	return nil
}
