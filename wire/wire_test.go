package wire

import (
	"bytes"
	"testing"

	"psi"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

func parts(n int) []*ResultPart {
	out := make([]*ResultPart, n)
	for i := range out {
		out[i] = &ResultPart{
			BundleIdx: uint32(i),
			Match:     [][]byte{{byte(i), 1}, {byte(i), 2}},
			Labels:    [][][]byte{{{3}}, {{4}}},
		}
	}
	return out
}

func writeResponse(t *testing.T, count int, ps []*ResultPart) []byte {
	var buf bytes.Buffer
	rw := NewResponseWriter(&buf)
	assert.NilError(t, rw.WriteCount(count))
	for _, p := range ps {
		assert.NilError(t, rw.WritePart(p))
	}
	return buf.Bytes()
}

func TestResponseRoundTrip(t *testing.T) {
	want := parts(3)
	got, err := ParseResponse(writeResponse(t, 3, want))
	assert.NilError(t, err)
	assert.DeepEqual(t, got, want)
}

func TestEmptyResponse(t *testing.T) {
	got, err := ParseResponse(writeResponse(t, 0, nil))
	assert.NilError(t, err)
	assert.Equal(t, len(got), 0)
}

func TestPartCountMustMatch(t *testing.T) {
	ps := parts(3)
	_, err := ParseResponse(writeResponse(t, 3, ps[:2]))
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))

	_, err = ParseResponse(writeResponse(t, 2, ps))
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
}

func TestMalformedResponse(t *testing.T) {
	for _, b := range [][]byte{
		nil,
		{0xff},
		AppendPart(nil, []byte{1}),
		append(AppendCount(nil, 1), 0x12, 0x05, 0x01),
	} {
		_, err := ParseResponse(b)
		assert.Check(t, errors.Is(err, psi.ErrMalformedMessage), "%x", b)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	req := QueryRequest{Ciphertexts: [][]byte{{1, 2}, {3}}}
	b, err := Encode(&req)
	assert.NilError(t, err)
	var got QueryRequest
	assert.NilError(t, Decode(b, &got))
	assert.DeepEqual(t, got, req)

	err = Decode(nil, &got)
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
}
