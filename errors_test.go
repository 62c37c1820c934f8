package psi

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	err := Wrap(ErrMalformedMessage, io.ErrUnexpectedEOF, "decode part 3")
	assert.Check(t, errors.Is(err, ErrMalformedMessage))
	assert.Check(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Check(t, !errors.Is(err, ErrNoData))
	assert.ErrorContains(t, err, "malformed message: decode part 3")
}

func untyped(err error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return false
		}
	}
	return true
}

func TestErrorfKind(t *testing.T) {
	err := Errorf(ErrInvalidState, "phase %s", "Unconfigured")
	assert.Check(t, errors.Is(err, ErrInvalidState))
	assert.ErrorContains(t, err, "Unconfigured")
	assert.Check(t, untyped(errors.New("plain")))
}

func TestFromMessage(t *testing.T) {
	for _, kind := range kinds {
		sent := Wrapf(kind, errors.New("boom"), "step %d", 2)
		got := FromMessage(sent.Error())
		assert.Check(t, errors.Is(got, kind), "kind %v", kind)
		assert.Equal(t, got.Error(), sent.Error())
	}
	assert.Check(t, untyped(FromMessage("connection reset")))
}

func TestItemFromBytes(t *testing.T) {
	a := ItemFromString("alice@example.com")
	b := ItemFromString("alice@example.com")
	c := ItemFromString("bob@example.com")
	assert.Equal(t, a, b)
	assert.Check(t, a != c)
	assert.Equal(t, len(a.String()), 2*ItemSize)
}

func TestIntersect(t *testing.T) {
	items := []Item{ItemFromString("a"), ItemFromString("b"), ItemFromString("c")}
	records := []MatchRecord{{Found: true}, {}, {Found: true, Label: []byte("x")}}
	assert.DeepEqual(t, Intersect(items, records), []Item{items[0], items[2]})
}
