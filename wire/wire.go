// Package wire defines the messages exchanged between client and server.
//
// Message bodies are Binc encoded. A query response is a protobuf-wire
// stream: the package count as field 1, then one length-prefixed ResultPart
// per field 2 entry.
package wire

import (
	"psi"

	"github.com/ugorji/go/codec"
)

// Handle is the codec handle used for every message body.
func Handle() codec.Handle {
	h := codec.BincHandle{}
	h.StructToArray = true
	h.OptimumSize = true
	return &h
}

type OPRFRequest struct {
	Elements [][]byte
}

type OPRFResponse struct {
	Elements [][]byte
}

// QueryRequest carries one ciphertext per bundle index.
type QueryRequest struct {
	Ciphertexts [][]byte
}

// ResultPart is the server's answer for one bin bundle. Match holds one
// ciphertext per bundle row; Labels, when present, holds the label part
// ciphertexts of each row.
type ResultPart struct {
	BundleIdx uint32
	Match     [][]byte
	Labels    [][][]byte
}

// Encode serializes a message body.
func Encode(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, Handle()).Encode(v); err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "encode message")
	}
	return out, nil
}

// Decode parses a message body into v.
func Decode(b []byte, v interface{}) error {
	if len(b) == 0 {
		return psi.Errorf(psi.ErrMalformedMessage, "empty message")
	}
	if err := codec.NewDecoderBytes(b, Handle()).Decode(v); err != nil {
		return psi.Wrap(psi.ErrMalformedMessage, err, "decode message")
	}
	return nil
}
