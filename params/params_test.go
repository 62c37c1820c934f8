package params

import (
	"testing"

	"psi"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

// Parameter blob in the format of the original integration tests.
const integrationParams = `{
	"table_params": {
		"hash_func_count": 3,
		"table_size": 512,
		"max_items_per_bin": 92
	},
	"item_params": {
		"felts_per_item": 8
	},
	"query_params": {
		"ps_low_degree": 0,
		"query_powers": [ 1, 3, 4, 5, 8, 14, 20, 26, 32, 38, 41, 42, 43, 45, 46 ]
	},
	"seal_params": {
		"plain_modulus": 40961,
		"poly_modulus_degree": 4096,
		"coeff_modulus_bits": [ 40, 32, 32 ]
	}
}`

func TestLoadIntegrationBlob(t *testing.T) {
	ps, err := Load([]byte(integrationParams))
	assert.NilError(t, err)

	assert.Equal(t, ps.HashFuncCount(), 3)
	assert.Equal(t, ps.TableSize(), 512)
	assert.Equal(t, ps.MaxItemsPerBin(), 92)
	assert.Equal(t, ps.FeltsPerItem(), 8)
	assert.Equal(t, ps.PlainModulus(), uint64(40961))
	assert.Equal(t, ps.PolyModulusDegree(), 4096)
	assert.DeepEqual(t, ps.CoeffModulusBits(), []int{40, 32, 32})

	// 40961 has 15 usable bits per felt, so only 120 item bits are matched.
	assert.Equal(t, ps.BitsPerFelt(), 15)
	assert.Equal(t, ps.ItemBitCount(), 120)
	assert.Equal(t, ps.BinsPerBundle(), 512)
	assert.Equal(t, ps.BundleIdxCount(), 1)
	assert.Check(t, !ps.Labeled())
}

func TestSaveIsDeterministic(t *testing.T) {
	ps, err := Load([]byte(integrationParams))
	assert.NilError(t, err)

	blob1, err := ps.Save()
	assert.NilError(t, err)

	reloaded, err := Load(blob1)
	assert.NilError(t, err)
	blob2, err := reloaded.Save()
	assert.NilError(t, err)

	assert.DeepEqual(t, blob1, blob2)
	assert.Check(t, ps.Equal(reloaded))
	assert.Check(t, !ps.Equal(Default()))
}

func TestDefaultGeometry(t *testing.T) {
	ps := Default()
	assert.Equal(t, ps.BitsPerFelt(), 16)
	assert.Equal(t, ps.ItemBitCount(), 128)
	assert.Equal(t, ps.BinsPerBundle(), 512)
	assert.Equal(t, ps.BundleIdxCount(), 1)
	assert.Equal(t, ps.LabelPartCount(), 0)

	bundle, offset := ps.BundleOf(511)
	assert.Equal(t, bundle, 0)
	assert.Equal(t, offset, 511)
}

func TestLabelGeometry(t *testing.T) {
	ps := DefaultLabeled(20)
	// (20 + 12) bytes = 256 bits = 16 felts of 16 bits = 2 parts of 8 felts.
	assert.Equal(t, ps.LabelFeltCount(), 16)
	assert.Equal(t, ps.LabelPartCount(), 2)
	assert.Check(t, ps.Labeled())
}

func TestMultipleBundles(t *testing.T) {
	lit := DefaultLiteral()
	lit.Table.TableSize = 1200
	ps, err := New(lit)
	assert.NilError(t, err)
	assert.Equal(t, ps.BundleIdxCount(), 3)

	bundle, offset := ps.BundleOf(1100)
	assert.Equal(t, bundle, 2)
	assert.Equal(t, offset, 1100-1024)
}

func TestLiteralIsCopied(t *testing.T) {
	lit := DefaultLiteral()
	ps, err := New(lit)
	assert.NilError(t, err)

	lit.HE.CoeffModulusBits[0] = 3
	assert.DeepEqual(t, ps.CoeffModulusBits(), []int{54, 55})

	out := ps.Literal()
	out.HE.CoeffModulusBits[1] = 7
	assert.DeepEqual(t, ps.CoeffModulusBits(), []int{54, 55})
}

func TestMalformed(t *testing.T) {
	blobs := []string{
		"",
		"not json",
		`{"version": 2}`,
		`{"table_params": {"hash_func_count": 0, "table_size": 512, "max_items_per_bin": 4}}`,
	}
	for _, blob := range blobs {
		_, err := Load([]byte(blob))
		assert.Check(t, errors.Is(err, psi.ErrMalformedParameters), "blob %q: %v", blob, err)
	}

	lit := DefaultLiteral()
	lit.Item.FeltsPerItem = 4 // 64 item bits
	_, err := New(lit)
	assert.Check(t, errors.Is(err, psi.ErrMalformedParameters))

	lit = DefaultLiteral()
	lit.HE.PolyModulusDegree = 3000
	_, err = New(lit)
	assert.Check(t, errors.Is(err, psi.ErrMalformedParameters))
}
