package driver

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"psi"
	"psi/rpc"

	"github.com/ugorji/go/codec"
)

// RandSource is a time-seeded source for synthetic data. Not used for
// cryptographic operations.
func RandSource() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func MakeItems(src *rand.Rand, n int) []psi.Item {
	items := make([]psi.Item, n)
	for i := range items {
		src.Read(items[i][:])
	}
	return items
}

// MakeLabels returns n hex labels of exactly size bytes. Labels never end in
// a zero byte, so they survive decryption unchanged.
func MakeLabels(src *rand.Rand, n, size int) [][]byte {
	labels := make([][]byte, n)
	raw := make([]byte, (size+1)/2)
	for i := range labels {
		src.Read(raw)
		labels[i] = []byte(hex.EncodeToString(raw)[:size])
	}
	return labels
}

func SerializedSizeOf(e interface{}) (int, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, rpc.CodecHandle())
	if err := enc.Encode(e); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// Disgusting hack since testing.Benchmark hides all logs and failures
type ErrorPrinter struct {
}

func (ep ErrorPrinter) Log(args ...interface{}) {
	fmt.Println(args...)
}

func (ep ErrorPrinter) FailNow() {
	panic("Assertion failed")
}

func (ep ErrorPrinter) Fail() {
	panic("Assertion failed")
}
