package sender

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"psi"
	"psi/oprf"
	"psi/params"
	"psi/wire"
)

// Server answers OPRF and query requests. Queries may run concurrently with
// each other and with SetData; each query sees one database snapshot.
type Server struct {
	key *oprf.Key

	mu sync.Mutex // serializes writers
	ps params.ParameterSet

	db      atomic.Pointer[DB]
	threads atomic.Int32
}

// NewServer takes private copies of key and ps. The server has no data
// until SetData, SetLabeledData or Load.
func NewServer(key *oprf.Key, ps params.ParameterSet) (*Server, error) {
	if !key.Valid() {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "invalid oprf key")
	}
	if ps.IsZero() {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "parameters not set")
	}
	return &Server{key: key.Clone(), ps: ps}, nil
}

// LoadServer builds a server from a saved database and a key supplied out
// of band.
func LoadServer(r io.Reader, key *oprf.Key) (*Server, error) {
	if !key.Valid() {
		return nil, psi.Errorf(psi.ErrInvalidArgument, "invalid oprf key")
	}
	db, err := LoadDB(r, 0)
	if err != nil {
		return nil, err
	}
	s := &Server{key: key.Clone(), ps: db.Params()}
	s.db.Store(db)
	return s, nil
}

// SetThreads bounds the worker pool used to build databases and answer
// queries. Zero means one worker per CPU.
func (s *Server) SetThreads(n int) {
	if n < 0 {
		n = 0
	}
	s.threads.Store(int32(n))
}

func (s *Server) SetData(items []psi.Item) error {
	return s.setData(items, nil)
}

// SetLabeledData stores items with one label each. The first label of a
// duplicated item wins.
func (s *Server) SetLabeledData(items []psi.Item, labels [][]byte) error {
	if labels == nil {
		labels = [][]byte{}
	}
	return s.setData(items, labels)
}

func (s *Server) setData(items []psi.Item, labels [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := BuildDB(s.key, s.ps, items, labels, int(s.threads.Load()))
	if err != nil {
		return err
	}
	s.db.Store(db)
	log.Printf("Built database with %d items in %d bundles\n", db.Size(), db.PackageCount())
	return nil
}

// AnswerOPRFRequest evaluates a blinded OPRF request. It needs no data.
func (s *Server) AnswerOPRFRequest(req []byte) ([]byte, error) {
	var msg wire.OPRFRequest
	if err := wire.Decode(req, &msg); err != nil {
		return nil, err
	}
	if len(msg.Elements) == 0 {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "empty oprf request")
	}
	evaluated, err := s.key.EvaluateBlinded(msg.Elements)
	if err != nil {
		return nil, err
	}
	return wire.Encode(&wire.OPRFResponse{Elements: evaluated})
}

// AnswerQuery is Query into a buffer. On error it returns no bytes.
func (s *Server) AnswerQuery(query []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.Query(query, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Query evaluates an encrypted query and streams the response to w. It
// returns the number of result parts written. The count header goes out
// before any part is evaluated, so on error w holds a frame with fewer parts
// than it declares, which ParseResponse rejects. Use AnswerQuery when
// nothing may be written on failure.
func (s *Server) Query(query []byte, w io.Writer) (int, error) {
	db := s.db.Load()
	if db == nil {
		return 0, psi.Errorf(psi.ErrNoData, "no database")
	}
	cts, err := db.parseQuery(query)
	if err != nil {
		return 0, err
	}
	return db.answer(cts, int(s.threads.Load()), wire.NewResponseWriter(w))
}

// Save writes the current database.
func (s *Server) Save(w io.Writer) error {
	db := s.db.Load()
	if db == nil {
		return psi.Errorf(psi.ErrNoData, "no database")
	}
	return db.Save(w)
}

// Load replaces the database with one read from r. The server keeps its key
// and adopts the parameters of the loaded database.
func (s *Server) Load(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := LoadDB(r, int(s.threads.Load()))
	if err != nil {
		return err
	}
	s.ps = db.Params()
	s.db.Store(db)
	return nil
}

func (s *Server) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := s.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return s.Load(f)
}

// Parameters returns the parameters of the current database.
func (s *Server) Parameters() (params.ParameterSet, error) {
	db := s.db.Load()
	if db == nil {
		return params.ParameterSet{}, psi.Errorf(psi.ErrNoData, "no database")
	}
	return db.Params(), nil
}

// Size is the number of distinct items in the current database.
func (s *Server) Size() int {
	if db := s.db.Load(); db != nil {
		return db.Size()
	}
	return 0
}

// Stats describes the current database layout.
func (s *Server) Stats() (Stats, error) {
	db := s.db.Load()
	if db == nil {
		return Stats{}, psi.Errorf(psi.ErrNoData, "no database")
	}
	return db.Stats(), nil
}
