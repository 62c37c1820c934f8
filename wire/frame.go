package wire

import (
	"io"
	"sync"

	"psi"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	countField protowire.Number = 1
	partField  protowire.Number = 2
)

// AppendCount appends the package count header.
func AppendCount(b []byte, n int) []byte {
	b = protowire.AppendTag(b, countField, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(n))
}

// AppendPart appends one encoded ResultPart.
func AppendPart(b []byte, part []byte) []byte {
	b = protowire.AppendTag(b, partField, protowire.BytesType)
	return protowire.AppendBytes(b, part)
}

// ResponseWriter streams a query response. WritePart may be called from
// several goroutines once WriteCount has returned.
type ResponseWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: w}
}

func (rw *ResponseWriter) WriteCount(n int) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.flush(AppendCount(rw.buf[:0], n))
}

func (rw *ResponseWriter) WritePart(p *ResultPart) error {
	body, err := Encode(p)
	if err != nil {
		return err
	}
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.flush(AppendPart(rw.buf[:0], body))
}

func (rw *ResponseWriter) flush(b []byte) error {
	rw.buf = b
	if _, err := rw.w.Write(b); err != nil {
		return psi.Wrap(psi.ErrProtocolFailure, err, "write response")
	}
	return nil
}

// ParseResponse reads the package count and exactly that many parts. A
// missing count, a short or long stream, or an undecodable part is a
// MalformedMessage.
func ParseResponse(b []byte) ([]*ResultPart, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, psi.Wrap(psi.ErrMalformedMessage, protowire.ParseError(n), "read package count")
	}
	if num != countField || typ != protowire.VarintType {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "response does not start with a package count")
	}
	b = b[n:]
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, psi.Wrap(psi.ErrMalformedMessage, protowire.ParseError(n), "read package count")
	}
	b = b[n:]

	capacity := len(b)
	if count < uint64(capacity) {
		capacity = int(count)
	}
	parts := make([]*ResultPart, 0, capacity)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, psi.Wrapf(psi.ErrMalformedMessage, protowire.ParseError(n), "read part %d", len(parts))
		}
		if num != partField || typ != protowire.BytesType {
			return nil, psi.Errorf(psi.ErrMalformedMessage, "unexpected field %d in response", num)
		}
		b = b[n:]
		body, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, psi.Wrapf(psi.ErrMalformedMessage, protowire.ParseError(n), "read part %d", len(parts))
		}
		b = b[n:]
		if uint64(len(parts)) == count {
			return nil, psi.Errorf(psi.ErrMalformedMessage, "more than %d parts", count)
		}
		part := new(ResultPart)
		if err := Decode(body, part); err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if uint64(len(parts)) != count {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "got %d of %d parts", len(parts), count)
	}
	return parts, nil
}
