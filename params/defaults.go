package params

// DefaultLiteral is a 128-bit secure set for N=4096 with full 128-bit item
// matching: 512 bins in one bundle, 8 felts of 16 bits per item.
func DefaultLiteral() Literal {
	return Literal{
		Version: Version,
		Table: TableParams{
			HashFuncCount:  3,
			TableSize:      512,
			MaxItemsPerBin: 16,
		},
		Item: ItemParams{
			FeltsPerItem: 8,
		},
		HE: HEParams{
			PlainModulus:      65537,
			PolyModulusDegree: 4096,
			CoeffModulusBits:  []int{54, 55},
		},
	}
}

// Default returns DefaultLiteral as a ParameterSet.
func Default() ParameterSet {
	ps, err := New(DefaultLiteral())
	if err != nil {
		panic(err)
	}
	return ps
}

// DefaultLabeled is Default with labels of labelBytes bytes.
func DefaultLabeled(labelBytes int) ParameterSet {
	lit := DefaultLiteral()
	lit.Item.LabelByteCount = uint32(labelBytes)
	ps, err := New(lit)
	if err != nil {
		panic(err)
	}
	return ps
}
