package receiver_test

import (
	"fmt"
	"testing"

	"psi"
	"psi/oprf"
	"psi/params"
	"psi/receiver"
	"psi/sender"
	"psi/wire"

	"github.com/cockroachdb/errors"
	"gotest.tools/assert"
)

func makeItems(prefix string, n int) []psi.Item {
	items := make([]psi.Item, n)
	for i := range items {
		items[i] = psi.ItemFromString(fmt.Sprintf("%s-%d", prefix, i))
	}
	return items
}

func newServer(t *testing.T, ps params.ParameterSet, items []psi.Item) *sender.Server {
	key, err := oprf.NewKey()
	assert.NilError(t, err)
	s, err := sender.NewServer(key, ps)
	assert.NilError(t, err)
	assert.NilError(t, s.SetData(items))
	return s
}

func newClient(t *testing.T, ps params.ParameterSet) *receiver.Client {
	c := receiver.NewClient()
	assert.NilError(t, c.SetParameters(ps.MustSave()))
	return c
}

// query runs the four protocol steps and returns the raw query response too.
func query(t *testing.T, c *receiver.Client, s *sender.Server, items []psi.Item) ([]psi.MatchRecord, []byte) {
	req, err := c.CreateOPRFRequest(items)
	assert.NilError(t, err)
	resp, err := s.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	hashed, keys, err := c.ExtractHashes(resp)
	assert.NilError(t, err)
	assert.Equal(t, len(hashed), len(items))
	assert.Equal(t, len(keys), len(items))
	q, err := c.CreateQuery(hashed)
	assert.NilError(t, err)
	result, err := s.AnswerQuery(q)
	assert.NilError(t, err)
	records, err := c.ProcessResult(result)
	assert.NilError(t, err)
	assert.Equal(t, len(records), len(items))
	return records, result
}

// interleave returns hits and misses alternating, starting with a hit.
func interleave(hits, misses []psi.Item) []psi.Item {
	var out []psi.Item
	for i := range hits {
		out = append(out, hits[i], misses[i])
	}
	return out
}

func TestRoundTripPreservesOrder(t *testing.T) {
	ps := params.Default()
	db := makeItems("db", 300)
	s := newServer(t, ps, db)
	c := newClient(t, ps)

	items := interleave(db[10:20], makeItems("other", 10))
	records, _ := query(t, c, s, items)
	for i, r := range records {
		assert.Equal(t, r.Found, i%2 == 0, "item %d", i)
		assert.Check(t, r.Label == nil)
	}
	assert.Equal(t, c.Phase(), receiver.ResultReady)
	assert.DeepEqual(t, psi.Intersect(items, records), db[10:20])
}

func TestDuplicateQueryItems(t *testing.T) {
	ps := params.Default()
	db := makeItems("db", 50)
	s := newServer(t, ps, db)
	c := newClient(t, ps)

	items := []psi.Item{db[3], db[3], psi.ItemFromString("missing"), db[3]}
	records, _ := query(t, c, s, items)
	assert.DeepEqual(t, records, []psi.MatchRecord{{Found: true}, {Found: true}, {}, {Found: true}})
}

func TestStateEnforcement(t *testing.T) {
	c := receiver.NewClient()
	assert.Equal(t, c.Phase(), receiver.Unconfigured)

	_, _, err := c.ExtractHashes([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	_, err = c.CreateQuery([]psi.HashedItem{{1}})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	_, err = c.ProcessResult([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	assert.Equal(t, c.Phase(), receiver.Unconfigured)

	ps := params.Default()
	assert.NilError(t, c.SetParameters(ps.MustSave()))
	assert.Equal(t, c.Phase(), receiver.ParametersSet)
	_, _, err = c.ExtractHashes([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	_, err = c.ProcessResult([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	assert.Equal(t, c.Phase(), receiver.ParametersSet)

	// Hashes that did not come from this run carry no lookup keys.
	_, err = c.CreateQuery([]psi.HashedItem{{1}, {2}})
	assert.NilError(t, err)
	assert.Equal(t, c.Phase(), receiver.QueryReady)
	_, err = c.ProcessResult([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	assert.Equal(t, c.Phase(), receiver.QueryReady)
}

func TestOPRFRequestWithoutParameters(t *testing.T) {
	c := receiver.NewClient()
	_, err := c.CreateOPRFRequest(makeItems("x", 2))
	assert.NilError(t, err)
	assert.Equal(t, c.Phase(), receiver.OPRFRequested)
}

func TestResetSemantics(t *testing.T) {
	ps := params.Default()
	s := newServer(t, ps, makeItems("db", 20))
	c := newClient(t, ps)
	query(t, c, s, makeItems("db", 3))

	c.Reset()
	assert.Equal(t, c.Phase(), receiver.ParametersSet)
	_, err := c.ProcessResult([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	_, _, err = c.ExtractHashes([]byte{1})
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	c.Reset()
	assert.Equal(t, c.Phase(), receiver.ParametersSet)

	fresh := receiver.NewClient()
	fresh.Reset()
	assert.Equal(t, fresh.Phase(), receiver.Unconfigured)

	// A reset client runs a full query again.
	records, _ := query(t, c, s, makeItems("db", 3))
	for _, r := range records {
		assert.Check(t, r.Found)
	}
}

func TestNewOPRFRequestDropsPreviousRun(t *testing.T) {
	ps := params.Default()
	db := makeItems("db", 20)
	s := newServer(t, ps, db)
	c := newClient(t, ps)

	// After a finished query.
	_, old := query(t, c, s, db[:3])
	_, err := c.CreateOPRFRequest(db[:3])
	assert.NilError(t, err)
	_, err = c.ProcessResult(old)
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	assert.Equal(t, c.Phase(), receiver.OPRFRequested)

	// Twice in a row: the first round's response no longer unblinds to the
	// same hashes.
	items := db[:4]
	req1, err := c.CreateOPRFRequest(items)
	assert.NilError(t, err)
	resp1, err := s.AnswerOPRFRequest(req1)
	assert.NilError(t, err)
	_, err = c.CreateOPRFRequest(items)
	assert.NilError(t, err)
	stale, _, err := c.ExtractHashes(resp1)
	assert.NilError(t, err)

	other := newClient(t, ps)
	req, err := other.CreateOPRFRequest(items)
	assert.NilError(t, err)
	resp, err := s.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	want, _, err := other.ExtractHashes(resp)
	assert.NilError(t, err)
	for i := range want {
		assert.Check(t, stale[i] != want[i], "item %d", i)
	}

	// That consumed the second round.
	_, _, err = c.ExtractHashes(resp1)
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))
	records, _ := query(t, c, s, items)
	for _, r := range records {
		assert.Check(t, r.Found)
	}
}

func TestQueryBeforeHashes(t *testing.T) {
	ps := params.DefaultLabeled(12)
	db := makeItems("db", 50)
	labels := make([][]byte, len(db))
	for i := range labels {
		labels[i] = []byte(fmt.Sprintf("label %d", i))
	}
	key, err := oprf.NewKey()
	assert.NilError(t, err)
	s, err := sender.NewServer(key, ps)
	assert.NilError(t, err)
	assert.NilError(t, s.SetLabeledData(db, labels))

	// Hashes from an earlier round on another client.
	items := []psi.Item{db[4], psi.ItemFromString("missing"), db[30]}
	helper := newClient(t, ps)
	req, err := helper.CreateOPRFRequest(items)
	assert.NilError(t, err)
	resp, err := s.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	hashed, _, err := helper.ExtractHashes(resp)
	assert.NilError(t, err)

	c := newClient(t, ps)
	req, err = c.CreateOPRFRequest(items)
	assert.NilError(t, err)
	q, err := c.CreateQuery(hashed)
	assert.NilError(t, err)
	assert.Equal(t, c.Phase(), receiver.QueryReady)
	result, err := s.AnswerQuery(q)
	assert.NilError(t, err)
	_, err = c.ProcessResult(result)
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))

	resp, err = s.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	again, _, err := c.ExtractHashes(resp)
	assert.NilError(t, err)
	assert.DeepEqual(t, again, hashed)
	assert.Equal(t, c.Phase(), receiver.QueryReady)
	_, _, err = c.ExtractHashes(resp)
	assert.Check(t, errors.Is(err, psi.ErrInvalidState))

	records, err := c.ProcessResult(result)
	assert.NilError(t, err)
	assert.DeepEqual(t, records, []psi.MatchRecord{
		{Found: true, Label: []byte("label 4")},
		{},
		{Found: true, Label: []byte("label 30")},
	})
}

func TestSetParametersMidRun(t *testing.T) {
	ps := params.Default()
	c := newClient(t, ps)
	_, err := c.CreateOPRFRequest(makeItems("x", 2))
	assert.NilError(t, err)

	assert.Check(t, errors.Is(c.SetParameters([]byte("{")), psi.ErrMalformedParameters))
	assert.Equal(t, c.Phase(), receiver.OPRFRequested)

	assert.NilError(t, c.SetParameters(ps.MustSave()))
	assert.Equal(t, c.Phase(), receiver.ParametersSet)
}

func TestEmptyInputRejected(t *testing.T) {
	ps := params.Default()
	c := newClient(t, ps)

	_, err := c.CreateOPRFRequest(nil)
	assert.Check(t, errors.Is(err, psi.ErrInvalidArgument))
	assert.Equal(t, c.Phase(), receiver.ParametersSet)

	_, err = c.CreateQuery(nil)
	assert.Check(t, errors.Is(err, psi.ErrInvalidArgument))
	assert.Equal(t, c.Phase(), receiver.ParametersSet)
}

func TestMalformedOPRFResponseIsRetryable(t *testing.T) {
	ps := params.Default()
	s := newServer(t, ps, makeItems("db", 20))
	c := newClient(t, ps)

	items := makeItems("db", 4)
	req, err := c.CreateOPRFRequest(items)
	assert.NilError(t, err)

	_, _, err = c.ExtractHashes([]byte("garbage"))
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
	short, err := wire.Encode(&wire.OPRFResponse{Elements: [][]byte{make([]byte, 32)}})
	assert.NilError(t, err)
	_, _, err = c.ExtractHashes(short)
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
	assert.Equal(t, c.Phase(), receiver.OPRFRequested)

	resp, err := s.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	_, _, err = c.ExtractHashes(resp)
	assert.NilError(t, err)
	assert.Equal(t, c.Phase(), receiver.HashesExtracted)
}

func TestKeyBinding(t *testing.T) {
	ps := params.Default()
	db := makeItems("db", 50)
	s1 := newServer(t, ps, db)
	s2 := newServer(t, ps, db)
	c := newClient(t, ps)

	items := db[:5]
	req, err := c.CreateOPRFRequest(items)
	assert.NilError(t, err)
	resp, err := s1.AnswerOPRFRequest(req)
	assert.NilError(t, err)
	hashed, _, err := c.ExtractHashes(resp)
	assert.NilError(t, err)
	q, err := c.CreateQuery(hashed)
	assert.NilError(t, err)

	// Hashes under s1's key never match s2's database.
	result, err := s2.AnswerQuery(q)
	assert.NilError(t, err)
	records, err := c.ProcessResult(result)
	assert.NilError(t, err)
	for _, r := range records {
		assert.Check(t, !r.Found)
	}

	result, err = s1.AnswerQuery(q)
	assert.NilError(t, err)
	records, err = c.ProcessResult(result)
	assert.NilError(t, err)
	for _, r := range records {
		assert.Check(t, r.Found)
	}
}

func TestMissingPartFails(t *testing.T) {
	lit := params.DefaultLiteral()
	lit.Table.TableSize = 1024
	lit.HE.PolyModulusDegree = 4096
	ps, err := params.New(lit)
	assert.NilError(t, err)
	assert.Equal(t, ps.BundleIdxCount(), 2)

	db := makeItems("db", 100)
	s := newServer(t, ps, db)
	c := newClient(t, ps)
	records, result := query(t, c, s, db[:4])
	for _, r := range records {
		assert.Check(t, r.Found)
	}

	parts, err := wire.ParseResponse(result)
	assert.NilError(t, err)
	assert.Check(t, len(parts) >= 2)

	frame := func(count int, ps []*wire.ResultPart) []byte {
		b := wire.AppendCount(nil, count)
		for _, p := range ps {
			body, err := wire.Encode(p)
			assert.NilError(t, err)
			b = wire.AppendPart(b, body)
		}
		return b
	}
	_, err = c.ProcessResult(frame(len(parts), parts[:len(parts)-1]))
	assert.Check(t, errors.Is(err, psi.ErrMalformedMessage))
	assert.Equal(t, c.Phase(), receiver.ResultReady)

	// Parts may come in any order.
	reversed := make([]*wire.ResultPart, len(parts))
	for i := range parts {
		reversed[len(parts)-1-i] = parts[i]
	}
	again, err := c.ProcessResult(frame(len(parts), reversed))
	assert.NilError(t, err)
	assert.DeepEqual(t, again, records)
}

func TestEmptyDatabase(t *testing.T) {
	ps := params.Default()
	s := newServer(t, ps, nil)
	c := newClient(t, ps)
	records, _ := query(t, c, s, makeItems("x", 3))
	assert.DeepEqual(t, records, make([]psi.MatchRecord, 3))
}

func TestLabels(t *testing.T) {
	ps := params.DefaultLabeled(20)
	db := makeItems("db", 100)
	labels := make([][]byte, len(db))
	for i := range labels {
		labels[i] = []byte(fmt.Sprintf("label for %d", i))
	}
	key, err := oprf.NewKey()
	assert.NilError(t, err)
	s, err := sender.NewServer(key, ps)
	assert.NilError(t, err)
	assert.NilError(t, s.SetLabeledData(db, labels))

	c := newClient(t, ps)
	items := interleave([]psi.Item{db[7], db[42], db[99]}, makeItems("other", 3))
	records, _ := query(t, c, s, items)
	assert.DeepEqual(t, records, []psi.MatchRecord{
		{Found: true, Label: []byte("label for 7")},
		{},
		{Found: true, Label: []byte("label for 42")},
		{},
		{Found: true, Label: []byte("label for 99")},
		{},
	})
}

func TestTruncatedItems(t *testing.T) {
	ps, err := params.Load([]byte(`{
		"table_params": {"hash_func_count": 3, "table_size": 512, "max_items_per_bin": 92},
		"item_params": {"felts_per_item": 8},
		"seal_params": {"plain_modulus": 40961, "poly_modulus_degree": 4096, "coeff_modulus_bits": [40, 32, 32]}
	}`))
	assert.NilError(t, err)
	assert.Equal(t, ps.ItemBitCount(), 120)

	db := makeItems("db", 200)
	s := newServer(t, ps, db)
	c := newClient(t, ps)
	items := interleave(db[:5], makeItems("other", 5))
	records, _ := query(t, c, s, items)
	for i, r := range records {
		assert.Equal(t, r.Found, i%2 == 0, "item %d", i)
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, receiver.QueryReady.String(), "QueryReady")
	assert.Equal(t, receiver.Unconfigured.String(), "Unconfigured")
}
