package rpc

import (
	"psi/wire"

	"github.com/ugorji/go/codec"
)

// CodecHandle is the codec used on the TCP transport. It is the same Binc
// handle the protocol messages are framed with.
func CodecHandle() codec.Handle {
	return wire.Handle()
}
