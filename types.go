package psi

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const (
	// ItemSize is the width of an Item in bytes.
	ItemSize = 16

	// LabelKeySize is the width of a LabelKey in bytes.
	LabelKeySize = 16
)

// Item is an opaque 128-bit identifier.
type Item [ItemSize]byte

// HashedItem is the OPRF output of an Item under the server key.
type HashedItem [ItemSize]byte

// LabelKey decrypts the label stored with a matched item.
type LabelKey [LabelKeySize]byte

// MatchRecord is the outcome of a query for one item, in caller order.
type MatchRecord struct {
	Found bool
	// Label is nil for unlabeled databases and for misses.
	Label []byte
}

// ItemFromBytes maps an arbitrary byte string to an Item.
func ItemFromBytes(b []byte) Item {
	var it Item
	h := blake3.New()
	h.Write(b)
	copy(it[:], h.Sum(nil))
	return it
}

func ItemFromString(s string) Item {
	return ItemFromBytes([]byte(s))
}

func (it Item) String() string {
	return hex.EncodeToString(it[:])
}

func (h HashedItem) String() string {
	return hex.EncodeToString(h[:])
}

// Intersect returns the found items of a query in caller order.
func Intersect(items []Item, records []MatchRecord) []Item {
	var out []Item
	for i := range records {
		if records[i].Found && i < len(items) {
			out = append(out, items[i])
		}
	}
	return out
}
