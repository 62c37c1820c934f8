// Package params holds the parameter set both parties load identically:
// cuckoo table geometry, item and label packing, and BGV sizing.
package params

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"

	"psi"

	"github.com/ugorji/go/codec"
)

const (
	// Version is the only parameter-set version this module reads and writes.
	Version = 1

	// MinItemBitCount is the smallest accepted matching width.
	MinItemBitCount = 80

	// MaxLabelByteCount bounds label_byte_count.
	MaxLabelByteCount = 1024

	// LabelNonceSize is the per-label nonce prepended to every encrypted label
	// (a chacha20 nonce).
	LabelNonceSize = 12

	maxHashFuncCount = 8
)

type TableParams struct {
	HashFuncCount  uint32 `codec:"hash_func_count"`
	TableSize      uint32 `codec:"table_size"`
	MaxItemsPerBin uint32 `codec:"max_items_per_bin"`
}

type ItemParams struct {
	FeltsPerItem   uint32 `codec:"felts_per_item"`
	LabelByteCount uint32 `codec:"label_byte_count"`
}

type HEParams struct {
	PlainModulus      uint64 `codec:"plain_modulus"`
	PolyModulusDegree uint32 `codec:"poly_modulus_degree"`
	CoeffModulusBits  []int  `codec:"coeff_modulus_bits"`
}

// Literal is the user-facing form of a parameter set, as found in the JSON
// blob exchanged between parties.
type Literal struct {
	Version uint32      `codec:"version"`
	Table   TableParams `codec:"table_params"`
	Item    ItemParams  `codec:"item_params"`
	HE      HEParams    `codec:"seal_params"`
}

// ParameterSet is a validated, immutable Literal together with the geometry
// derived from it.
type ParameterSet struct {
	lit Literal

	bitsPerFelt    int
	itemBitCount   int
	binsPerBundle  int
	bundleIdxCount int
	labelFelts     int
	labelParts     int
}

func jsonHandle() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.Canonical = true
	h.HTMLCharsAsIs = true
	return h
}

// New validates lit and derives the table geometry.
func New(lit Literal) (ParameterSet, error) {
	if lit.Version == 0 {
		lit.Version = Version
	}
	lit.HE.CoeffModulusBits = append([]int(nil), lit.HE.CoeffModulusBits...)
	if err := validate(&lit); err != nil {
		return ParameterSet{}, psi.Wrap(psi.ErrMalformedParameters, err, "validate parameters")
	}

	ps := ParameterSet{lit: lit}
	ps.bitsPerFelt = bits.Len64(lit.HE.PlainModulus) - 1
	ps.itemBitCount = int(lit.Item.FeltsPerItem) * ps.bitsPerFelt
	if ps.itemBitCount > 8*psi.ItemSize {
		ps.itemBitCount = 8 * psi.ItemSize
	}
	if ps.itemBitCount < MinItemBitCount {
		return ParameterSet{}, psi.Errorf(psi.ErrMalformedParameters,
			"item bit count %d is below %d", ps.itemBitCount, MinItemBitCount)
	}
	ps.binsPerBundle = int(lit.HE.PolyModulusDegree / lit.Item.FeltsPerItem)
	ps.bundleIdxCount = (int(lit.Table.TableSize) + ps.binsPerBundle - 1) / ps.binsPerBundle
	if lit.Item.LabelByteCount > 0 {
		encBits := 8 * (int(lit.Item.LabelByteCount) + LabelNonceSize)
		ps.labelFelts = (encBits + ps.bitsPerFelt - 1) / ps.bitsPerFelt
		f := int(lit.Item.FeltsPerItem)
		ps.labelParts = (ps.labelFelts + f - 1) / f
	}
	return ps, nil
}

func validate(lit *Literal) error {
	switch {
	case lit.Version != Version:
		return fmt.Errorf("unsupported version %d", lit.Version)
	case lit.Table.HashFuncCount == 0 || lit.Table.HashFuncCount > maxHashFuncCount:
		return fmt.Errorf("hash_func_count must be in [1, %d]", maxHashFuncCount)
	case lit.Table.TableSize == 0:
		return fmt.Errorf("table_size must be positive")
	case lit.Table.MaxItemsPerBin == 0:
		return fmt.Errorf("max_items_per_bin must be positive")
	case lit.Item.FeltsPerItem == 0:
		return fmt.Errorf("felts_per_item must be positive")
	case lit.Item.LabelByteCount > MaxLabelByteCount:
		return fmt.Errorf("label_byte_count must be at most %d", MaxLabelByteCount)
	case lit.HE.PlainModulus < 3 || lit.HE.PlainModulus >= 1<<61:
		return fmt.Errorf("plain_modulus %d out of range", lit.HE.PlainModulus)
	case lit.HE.PolyModulusDegree < 16 || lit.HE.PolyModulusDegree&(lit.HE.PolyModulusDegree-1) != 0:
		return fmt.Errorf("poly_modulus_degree %d is not a power of two >= 16", lit.HE.PolyModulusDegree)
	case lit.Item.FeltsPerItem > lit.HE.PolyModulusDegree:
		return fmt.Errorf("felts_per_item exceeds poly_modulus_degree")
	case len(lit.HE.CoeffModulusBits) == 0:
		return fmt.Errorf("coeff_modulus_bits is empty")
	}
	for i, b := range lit.HE.CoeffModulusBits {
		if b < 2 || b > 60 {
			return fmt.Errorf("coeff_modulus_bits[%d] = %d out of range", i, b)
		}
	}
	return nil
}

// Load parses a JSON parameter blob.
func Load(blob []byte) (ParameterSet, error) {
	if len(bytes.TrimSpace(blob)) == 0 {
		return ParameterSet{}, psi.Errorf(psi.ErrMalformedParameters, "empty parameter blob")
	}
	var lit Literal
	if err := codec.NewDecoderBytes(blob, jsonHandle()).Decode(&lit); err != nil {
		return ParameterSet{}, psi.Wrap(psi.ErrMalformedParameters, err, "decode parameters")
	}
	return New(lit)
}

func LoadJSONFile(path string) (ParameterSet, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return ParameterSet{}, fmt.Errorf("read parameters %s: %w", path, err)
	}
	return Load(blob)
}

// Save returns the canonical JSON form. Equal parameter sets save to
// byte-identical blobs.
func (ps ParameterSet) Save() ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle()).Encode(&ps.lit); err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "encode parameters")
	}
	return out, nil
}

// MustSave is Save for parameter sets known to be valid.
func (ps ParameterSet) MustSave() []byte {
	out, err := ps.Save()
	if err != nil {
		panic(err)
	}
	return out
}

func (ps ParameterSet) Literal() Literal {
	lit := ps.lit
	lit.HE.CoeffModulusBits = append([]int(nil), ps.lit.HE.CoeffModulusBits...)
	return lit
}

func (ps ParameterSet) Equal(other ParameterSet) bool {
	a, errA := ps.Save()
	b, errB := other.Save()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// IsZero reports whether ps was never initialised by New or Load.
func (ps ParameterSet) IsZero() bool {
	return ps.lit.Version == 0
}

func (ps ParameterSet) HashFuncCount() int  { return int(ps.lit.Table.HashFuncCount) }
func (ps ParameterSet) TableSize() int      { return int(ps.lit.Table.TableSize) }
func (ps ParameterSet) MaxItemsPerBin() int { return int(ps.lit.Table.MaxItemsPerBin) }
func (ps ParameterSet) FeltsPerItem() int   { return int(ps.lit.Item.FeltsPerItem) }
func (ps ParameterSet) LabelByteCount() int { return int(ps.lit.Item.LabelByteCount) }
func (ps ParameterSet) PlainModulus() uint64 {
	return ps.lit.HE.PlainModulus
}
func (ps ParameterSet) PolyModulusDegree() int { return int(ps.lit.HE.PolyModulusDegree) }
func (ps ParameterSet) CoeffModulusBits() []int {
	return append([]int(nil), ps.lit.HE.CoeffModulusBits...)
}

// BitsPerFelt is the number of item bits packed into one field element.
func (ps ParameterSet) BitsPerFelt() int { return ps.bitsPerFelt }

// ItemBitCount is the number of HashedItem bits that take part in matching.
func (ps ParameterSet) ItemBitCount() int { return ps.itemBitCount }

// BinsPerBundle is the number of cuckoo bins packed in one plaintext.
func (ps ParameterSet) BinsPerBundle() int { return ps.binsPerBundle }

// BundleIdxCount is the number of query ciphertexts.
func (ps ParameterSet) BundleIdxCount() int { return ps.bundleIdxCount }

// LabelFeltCount is the number of field elements per encrypted label.
func (ps ParameterSet) LabelFeltCount() int { return ps.labelFelts }

// LabelPartCount is the number of label ciphertexts per bundle row.
func (ps ParameterSet) LabelPartCount() int { return ps.labelParts }

// Labeled reports whether databases built with ps carry labels.
func (ps ParameterSet) Labeled() bool { return ps.lit.Item.LabelByteCount > 0 }

// BundleOf returns the bundle index and the bin offset within it.
func (ps ParameterSet) BundleOf(bin int) (bundleIdx, offset int) {
	return bin / ps.binsPerBundle, bin % ps.binsPerBundle
}

func (ps ParameterSet) String() string {
	return fmt.Sprintf("N=%d,t=%d,table=%d,h=%d,bin=%d,felts=%d,label=%d",
		ps.lit.HE.PolyModulusDegree, ps.lit.HE.PlainModulus, ps.lit.Table.TableSize,
		ps.lit.Table.HashFuncCount, ps.lit.Table.MaxItemsPerBin, ps.lit.Item.FeltsPerItem,
		ps.lit.Item.LabelByteCount)
}
