package driver

import (
	"fmt"

	"psi"
	"psi/params"
)

// TestConfig describes a synthetic database for Configure.
type TestConfig struct {
	NumItems int

	// LabelLen is the label size used when Params is empty. Zero means an
	// unlabeled database.
	LabelLen int

	// Params is a parameter blob. Empty means the defaults.
	Params []byte

	PresetItems []PresetItem

	// Seed used to generate random data in database. Not used for cryptographic operations.
	DataRandSeed int64

	MeasureBandwidth bool

	Threads int
}

// PresetItem forces the item (and label) stored at Index.
type PresetItem struct {
	Index int
	Item  psi.Item
	Label []byte
}

// Message carries one serialized protocol message.
type Message struct {
	Data []byte
}

// QueryResult is the serialized response to a query and the number of
// result parts in it.
type QueryResult struct {
	Data  []byte
	Parts int
}

func (c TestConfig) String() string {
	return fmt.Sprintf("n=%d,l=%d", c.NumItems, c.LabelLen)
}

// ParameterSet resolves the parameters Configure will use.
func (c TestConfig) ParameterSet() (params.ParameterSet, error) {
	if len(c.Params) > 0 {
		return params.Load(c.Params)
	}
	lit := params.DefaultLiteral()
	lit.Item.LabelByteCount = uint32(c.LabelLen)
	return params.New(lit)
}

// FitLabels sizes LabelLen to the longest of labels, unless labels is nil or
// the label size was already fixed by LabelLen or Params.
func (c *TestConfig) FitLabels(labels [][]byte) {
	if labels == nil || c.LabelLen != 0 || len(c.Params) != 0 {
		return
	}
	for _, l := range labels {
		c.LabelLen = max(c.LabelLen, len(l))
	}
}
