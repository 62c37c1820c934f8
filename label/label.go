// Package label encrypts server labels under the per-item LookupKey, so a
// client can only read the label of an item it actually holds.
//
// An encrypted label is nonce || chacha20(k, nonce, label padded to L bytes),
// where k is expanded from the LookupKey with HKDF-SHA256.
package label

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"psi"
	"psi/params"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "psi-label-key-v1"

// EncryptedSize is the size of an encrypted label of byteCount bytes.
func EncryptedSize(byteCount int) int {
	return params.LabelNonceSize + byteCount
}

func cipher(key psi.LabelKey, nonce []byte) (*chacha20.Cipher, error) {
	var k [chacha20.KeySize]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, key[:], nil, []byte(keyInfo)), k[:]); err != nil {
		return nil, err
	}
	return chacha20.NewUnauthenticatedCipher(k[:], nonce)
}

// Encrypt pads lbl to byteCount bytes and encrypts it under key.
func Encrypt(key psi.LabelKey, lbl []byte, byteCount int) ([]byte, error) {
	if len(lbl) > byteCount {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "label of %d bytes exceeds %d", len(lbl), byteCount)
	}
	out := make([]byte, EncryptedSize(byteCount))
	nonce := out[:params.LabelNonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "sample label nonce")
	}
	c, err := cipher(key, nonce)
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "label cipher")
	}
	body := out[params.LabelNonceSize:]
	copy(body, lbl)
	c.XORKeyStream(body, body)
	return out, nil
}

// Decrypt recovers the padded label from enc. Trailing zero padding is
// stripped.
func Decrypt(key psi.LabelKey, enc []byte) ([]byte, error) {
	if len(enc) < params.LabelNonceSize {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "encrypted label of %d bytes", len(enc))
	}
	c, err := cipher(key, enc[:params.LabelNonceSize])
	if err != nil {
		return nil, psi.Wrap(psi.ErrProtocolFailure, err, "label cipher")
	}
	out := make([]byte, len(enc)-params.LabelNonceSize)
	c.XORKeyStream(out, enc[params.LabelNonceSize:])
	end := len(out)
	for end > 0 && out[end-1] == 0 {
		end--
	}
	return out[:end], nil
}
