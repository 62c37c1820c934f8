// Package receiver is the client side of the protocol. A Client walks one
// query through OPRF blinding, hash extraction, query encryption and result
// decoding, and refuses steps taken out of order.
package receiver

import (
	"psi"
	"psi/cuckoo"
	"psi/he"
	"psi/label"
	"psi/oprf"
	"psi/params"
	"psi/wire"

	"github.com/bits-and-blooms/bitset"
)

// Phase is the externally visible state of a Client.
type Phase int

const (
	Unconfigured Phase = iota
	ParametersSet
	OPRFRequested
	HashesExtracted
	QueryReady
	ResultReady
)

func (p Phase) String() string {
	switch p {
	case Unconfigured:
		return "Unconfigured"
	case ParametersSet:
		return "ParametersSet"
	case OPRFRequested:
		return "OPRFRequested"
	case HashesExtracted:
		return "HashesExtracted"
	case QueryReady:
		return "QueryReady"
	case ResultReady:
		return "ResultReady"
	}
	return "Phase(?)"
}

// IndexTranslationTable maps each original query index to its cuckoo bin.
type IndexTranslationTable []int

// run is the per-query state. It is one of *blindedRun, *hashedRun,
// *queryRun or *resultRun, or nil between queries.
type run interface {
	phase() Phase
}

type blindedRun struct {
	blinding *oprf.Blinding
}

type hashedRun struct {
	keys []psi.LabelKey
}

type queryRun struct {
	keys []psi.LabelKey // nil when the hashes did not come from this run
	itt  IndexTranslationTable

	// pending is an OPRF round still waiting for its response when the
	// query was built first. ExtractHashes attaches its keys to itt.
	pending *oprf.Blinding
}

type resultRun struct {
	queryRun
	result []psi.MatchRecord
}

func (*blindedRun) phase() Phase { return OPRFRequested }
func (*hashedRun) phase() Phase  { return HashesExtracted }
func (*queryRun) phase() Phase   { return QueryReady }
func (*resultRun) phase() Phase  { return ResultReady }

// Client is the query-side protocol driver. It is not safe for concurrent
// use; independent Clients do not share state.
type Client struct {
	ps  params.ParameterSet
	ctx *he.Context // nil until SetParameters
	run run
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) Phase() Phase {
	if c.run != nil {
		return c.run.phase()
	}
	if c.ctx != nil {
		return ParametersSet
	}
	return Unconfigured
}

// Parameters returns the parameter set, if configured.
func (c *Client) Parameters() (params.ParameterSet, bool) {
	return c.ps, c.ctx != nil
}

// SetParameters loads a parameter blob and creates a fresh encryption
// context. Any run in progress is discarded.
func (c *Client) SetParameters(blob []byte) error {
	ps, err := params.Load(blob)
	if err != nil {
		return err
	}
	ctx, err := he.NewContext(ps)
	if err != nil {
		return err
	}
	c.dropRun()
	c.ps, c.ctx = ps, ctx
	return nil
}

// CreateOPRFRequest blinds items and starts a new run.
func (c *Client) CreateOPRFRequest(items []psi.Item) ([]byte, error) {
	if len(items) == 0 {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "no items")
	}
	blinding, elems, err := oprf.Blind(items)
	if err != nil {
		return nil, err
	}
	req, err := wire.Encode(&wire.OPRFRequest{Elements: elems})
	if err != nil {
		blinding.Destroy()
		return nil, err
	}
	c.dropRun()
	c.run = &blindedRun{blinding: blinding}
	return req, nil
}

// ExtractHashes unblinds the server's OPRF response. A malformed response
// leaves the blinding context in place so the step can be retried.
//
// If a query was built while the round was in flight, the keys are attached
// to that query and the client stays QueryReady.
func (c *Client) ExtractHashes(response []byte) ([]psi.HashedItem, []psi.LabelKey, error) {
	var blinding *oprf.Blinding
	qr, _ := c.run.(*queryRun)
	switch r := c.run.(type) {
	case *blindedRun:
		blinding = r.blinding
	case *queryRun:
		blinding = r.pending
	}
	if blinding == nil {
		return nil, nil, psi.Errorf(psi.ErrInvalidState, "no oprf request in flight (phase %s)", c.Phase())
	}
	var msg wire.OPRFResponse
	if err := wire.Decode(response, &msg); err != nil {
		return nil, nil, err
	}
	hashed, keys, err := blinding.Finalize(msg.Elements)
	if err != nil {
		return nil, nil, err
	}
	if qr != nil {
		qr.pending = nil
		if len(keys) == len(qr.itt) {
			qr.keys = keys
		}
	} else {
		c.run = &hashedRun{keys: keys}
	}
	return hashed, append([]psi.LabelKey(nil), keys...), nil
}

// CreateQuery places the hashed items in a cuckoo table and encrypts one
// query vector per bundle index.
func (c *Client) CreateQuery(hashed []psi.HashedItem) ([]byte, error) {
	if c.ctx == nil {
		return nil, psi.Errorf(psi.ErrInvalidState, "parameters not set")
	}
	if len(hashed) == 0 {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "no hashed items")
	}

	table := cuckoo.NewTable(c.ps)
	for _, h := range hashed {
		if err := table.Insert(h); err != nil {
			return nil, err
		}
	}
	itt := make(IndexTranslationTable, len(hashed))
	for i, h := range hashed {
		bin, ok := table.Find(h)
		if !ok {
			return nil, psi.Errorf(psi.ErrProtocolFailure, "item %d lost from cuckoo table", i)
		}
		itt[i] = bin
	}

	f := c.ps.FeltsPerItem()
	vectors := make([][]uint64, c.ps.BundleIdxCount())
	for i := range vectors {
		vectors[i] = make([]uint64, c.ctx.Slots())
	}
	for bin := 0; bin < table.Size(); bin++ {
		h, ok := table.Get(bin)
		if !ok {
			continue
		}
		b, off := c.ps.BundleOf(bin)
		copy(vectors[b][off*f:], he.ItemFelts(c.ps, h))
	}
	req := wire.QueryRequest{Ciphertexts: make([][]byte, len(vectors))}
	for i, v := range vectors {
		ct, err := c.ctx.Encrypt(v)
		if err != nil {
			return nil, err
		}
		req.Ciphertexts[i] = ct
	}
	query, err := wire.Encode(&req)
	if err != nil {
		return nil, err
	}

	var keys []psi.LabelKey
	if prev := c.currentKeys(); len(prev) == len(hashed) {
		keys = prev
	}
	pending := c.takePending()
	c.dropRun()
	c.run = &queryRun{keys: keys, itt: itt, pending: pending}
	return query, nil
}

// ProcessResult decodes a query response into one MatchRecord per original
// item, in caller order. It may be repeated for the same query.
func (c *Client) ProcessResult(result []byte) ([]psi.MatchRecord, error) {
	var qr *queryRun
	switch r := c.run.(type) {
	case *queryRun:
		qr = r
	case *resultRun:
		qr = &r.queryRun
	}
	if qr == nil || qr.keys == nil || qr.itt == nil {
		return nil, psi.Errorf(psi.ErrInvalidState, "no query with lookup keys (phase %s)", c.Phase())
	}

	parts, err := wire.ParseResponse(result)
	if err != nil {
		return nil, err
	}
	found, labels, err := c.decodeParts(parts, qr.itt, qr.keys)
	if err != nil {
		return nil, err
	}

	records := make([]psi.MatchRecord, len(qr.itt))
	for i := range records {
		records[i].Found = found.Test(uint(i))
		if records[i].Found && labels != nil {
			records[i].Label = labels[i]
		}
	}
	c.run = &resultRun{queryRun: *qr, result: records}
	return records, nil
}

// decodeParts decrypts every part and marks the items found in it. Parts
// may arrive in any order.
func (c *Client) decodeParts(parts []*wire.ResultPart, itt IndexTranslationTable, keys []psi.LabelKey) (*bitset.BitSet, [][]byte, error) {
	ps := c.ps
	f := ps.FeltsPerItem()
	labelParts := ps.LabelPartCount()
	encLen := label.EncryptedSize(ps.LabelByteCount())

	byBundle := make(map[int][]int)
	for i, bin := range itt {
		b, _ := ps.BundleOf(bin)
		byBundle[b] = append(byBundle[b], i)
	}

	found := bitset.New(uint(len(itt)))
	var labels [][]byte
	if ps.Labeled() {
		labels = make([][]byte, len(itt))
	}
	for _, part := range parts {
		if int(part.BundleIdx) >= ps.BundleIdxCount() {
			return nil, nil, psi.Errorf(psi.ErrMalformedMessage, "bundle index %d out of range", part.BundleIdx)
		}
		if labelParts > 0 && len(part.Labels) != len(part.Match) {
			return nil, nil, psi.Errorf(psi.ErrMalformedMessage, "%d label rows for %d match rows", len(part.Labels), len(part.Match))
		}
		pending := byBundle[int(part.BundleIdx)]
		for r, blob := range part.Match {
			match, err := c.ctx.Decrypt(blob)
			if err != nil {
				return nil, nil, err
			}
			var hits []int
			for _, i := range pending {
				_, off := ps.BundleOf(itt[i])
				if !found.Test(uint(i)) && allZero(match[off*f:(off+1)*f]) {
					found.Set(uint(i))
					hits = append(hits, i)
				}
			}
			if len(hits) == 0 || labels == nil {
				continue
			}
			if len(part.Labels[r]) != labelParts {
				return nil, nil, psi.Errorf(psi.ErrMalformedMessage, "row %d has %d label parts", r, len(part.Labels[r]))
			}
			decrypted := make([][]uint64, labelParts)
			for p := range decrypted {
				if decrypted[p], err = c.ctx.Decrypt(part.Labels[r][p]); err != nil {
					return nil, nil, err
				}
			}
			for _, i := range hits {
				_, off := ps.BundleOf(itt[i])
				felts := make([]uint64, 0, labelParts*f)
				for p := range decrypted {
					felts = append(felts, decrypted[p][off*f:(off+1)*f]...)
				}
				if labels[i], err = label.Decrypt(keys[i], he.LabelBytes(ps, felts, encLen)); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return found, labels, nil
}

func allZero(v []uint64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Reset drops the current run. The parameters stay loaded.
func (c *Client) Reset() {
	c.dropRun()
}

func (c *Client) currentKeys() []psi.LabelKey {
	switch r := c.run.(type) {
	case *hashedRun:
		return r.keys
	case *queryRun:
		return r.keys
	case *resultRun:
		return r.keys
	}
	return nil
}

// takePending detaches an unanswered OPRF round from the current run.
func (c *Client) takePending() *oprf.Blinding {
	var b *oprf.Blinding
	switch r := c.run.(type) {
	case *blindedRun:
		b, r.blinding = r.blinding, nil
	case *queryRun:
		b, r.pending = r.pending, nil
	}
	return b
}

func (c *Client) dropRun() {
	if b := c.takePending(); b != nil {
		b.Destroy()
	}
	c.run = nil
}
