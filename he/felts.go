package he

import (
	"psi"
	"psi/params"
)

// BytesToFelts splits the first bitCount bits of b, least significant bit
// first, into field elements of bpf bits each.
func BytesToFelts(b []byte, bitCount, bpf int) []uint64 {
	felts := make([]uint64, (bitCount+bpf-1)/bpf)
	for i := 0; i < bitCount; i++ {
		if b[i/8]>>(i%8)&1 == 1 {
			felts[i/bpf] |= 1 << (i % bpf)
		}
	}
	return felts
}

// FeltsToBytes is the inverse of BytesToFelts. Bits above bitCount are zero.
func FeltsToBytes(felts []uint64, bitCount, bpf int) []byte {
	out := make([]byte, (bitCount+7)/8)
	for i := 0; i < bitCount && i/bpf < len(felts); i++ {
		if felts[i/bpf]>>(i%bpf)&1 == 1 {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// ItemFelts packs the matched bits of h into exactly FeltsPerItem field
// elements, zero padded.
func ItemFelts(ps params.ParameterSet, h psi.HashedItem) []uint64 {
	felts := make([]uint64, ps.FeltsPerItem())
	copy(felts, BytesToFelts(h[:], ps.ItemBitCount(), ps.BitsPerFelt()))
	return felts
}

// LabelFelts packs an encrypted label into LabelPartCount*FeltsPerItem field
// elements, zero padded.
func LabelFelts(ps params.ParameterSet, enc []byte) []uint64 {
	felts := make([]uint64, ps.LabelPartCount()*ps.FeltsPerItem())
	copy(felts, BytesToFelts(enc, 8*len(enc), ps.BitsPerFelt()))
	return felts
}

// LabelBytes recovers an encrypted label of encLen bytes from its felts.
func LabelBytes(ps params.ParameterSet, felts []uint64, encLen int) []byte {
	return FeltsToBytes(felts, 8*encLen, ps.BitsPerFelt())
}
