package driver

import (
	"bytes"
	"math/rand"
	"sync"
	"time"

	"psi"
	"psi/oprf"
	"psi/params"
	"psi/sender"
)

// PSIServerDriver is the RPC surface of a PSI server. Every method has the
// net/rpc shape so the same value serves both transports.
type PSIServerDriver interface {
	Configure(config *TestConfig, none *int) error

	Parameters(none *int, out *[]byte) error
	OPRF(req *Message, resp *Message) error
	Query(req *Message, resp *QueryResult) error

	NumItems(none *int, out *int) error
	GetItem(idx *int, out *PresetItem) error
	Stats(none *int, out *sender.Stats) error

	ResetMetrics(none *int, none2 *int) error
	GetOPRFTimer(none *int, out *time.Duration) error
	GetQueryTimer(none *int, out *time.Duration) error
	GetOPRFBytes(none *int, out *int) error
	GetQueryBytes(none *int, out *int) error
}

type serverDriver struct {
	key *oprf.Key

	mu     sync.Mutex
	server *sender.Server
	config TestConfig
	items  []psi.Item
	labels [][]byte

	randSource *rand.Rand

	// For profiling
	oprfTime, queryTime   time.Duration
	oprfBytes, queryBytes int
}

// NewServerDriver creates a driver with a fresh OPRF key and no data.
func NewServerDriver() (*serverDriver, error) {
	key, err := oprf.NewKey()
	if err != nil {
		return nil, err
	}
	defer key.Destroy()
	return NewServerDriverFor(key, nil), nil
}

// NewServerDriverFor wraps an existing server, which may be nil. The driver
// keeps its own copy of key for later Configure calls.
func NewServerDriverFor(key *oprf.Key, server *sender.Server) *serverDriver {
	return &serverDriver{
		key:        key.Clone(),
		server:     server,
		randSource: RandSource(),
	}
}

// Server returns the wrapped server, or nil before the first Configure.
func (driver *serverDriver) Server() *sender.Server {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	return driver.server
}

func (driver *serverDriver) current() (*sender.Server, bool, error) {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.server == nil {
		return nil, false, psi.Errorf(psi.ErrNoData, "server not configured")
	}
	return driver.server, driver.config.MeasureBandwidth, nil
}

func (driver *serverDriver) Configure(config *TestConfig, none *int) error {
	ps, err := config.ParameterSet()
	if err != nil {
		return err
	}
	if config.NumItems < 0 {
		return psi.Errorf(psi.ErrInvalidArgument, "negative item count %d", config.NumItems)
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()

	if config.DataRandSeed > 0 {
		driver.randSource = rand.New(rand.NewSource(config.DataRandSeed))
	}
	items := MakeItems(driver.randSource, config.NumItems)
	var labels [][]byte
	if ps.Labeled() {
		labels = MakeLabels(driver.randSource, config.NumItems, ps.LabelByteCount())
	}
	for _, preset := range config.PresetItems {
		if preset.Index < 0 || preset.Index >= len(items) {
			return psi.Errorf(psi.ErrInvalidArgument, "preset index %d out of range", preset.Index)
		}
		items[preset.Index] = preset.Item
		if labels != nil {
			labels[preset.Index] = preset.Label
		}
	}

	server := driver.server
	if server == nil || !sameParams(server, ps) {
		if server, err = sender.NewServer(driver.key, ps); err != nil {
			return err
		}
	}
	server.SetThreads(config.Threads)
	if labels != nil {
		err = server.SetLabeledData(items, labels)
	} else {
		err = server.SetData(items)
	}
	if err != nil {
		return err
	}

	driver.server = server
	driver.config = *config
	driver.items, driver.labels = items, labels
	driver.resetMetrics()
	return nil
}

func sameParams(server *sender.Server, ps params.ParameterSet) bool {
	cur, err := server.Parameters()
	return err == nil && cur.Equal(ps)
}

func (driver *serverDriver) Parameters(none *int, out *[]byte) error {
	server, _, err := driver.current()
	if err != nil {
		return err
	}
	ps, err := server.Parameters()
	if err != nil {
		return err
	}
	*out, err = ps.Save()
	return err
}

func (driver *serverDriver) OPRF(req *Message, resp *Message) (err error) {
	server, measure, err := driver.current()
	if err != nil {
		return err
	}

	start := time.Now()
	if resp.Data, err = server.AnswerOPRFRequest(req.Data); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var size int
	if measure {
		if size, err = exchangeSize(req, resp); err != nil {
			return err
		}
	}
	driver.mu.Lock()
	driver.oprfTime += elapsed
	driver.oprfBytes += size
	driver.mu.Unlock()
	return nil
}

func (driver *serverDriver) Query(req *Message, resp *QueryResult) (err error) {
	server, measure, err := driver.current()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	start := time.Now()
	if resp.Parts, err = server.Query(req.Data, &buf); err != nil {
		return err
	}
	elapsed := time.Since(start)
	resp.Data = buf.Bytes()

	var size int
	if measure {
		if size, err = exchangeSize(req, resp); err != nil {
			return err
		}
	}
	driver.mu.Lock()
	driver.queryTime += elapsed
	driver.queryBytes += size
	driver.mu.Unlock()
	return nil
}

func exchangeSize(req, resp interface{}) (int, error) {
	reqSize, err := SerializedSizeOf(req)
	if err != nil {
		return 0, err
	}
	respSize, err := SerializedSizeOf(resp)
	if err != nil {
		return 0, err
	}
	return reqSize + respSize, nil
}

func (driver *serverDriver) NumItems(none *int, out *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.server == nil {
		*out = 0
		return nil
	}
	*out = driver.server.Size()
	return nil
}

// GetItem returns the item Configure stored at idx.
func (driver *serverDriver) GetItem(idx *int, out *PresetItem) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.items == nil {
		return psi.Errorf(psi.ErrNoData, "no generated items")
	}
	if *idx < 0 || *idx >= len(driver.items) {
		return psi.Errorf(psi.ErrInvalidArgument, "item index %d out of range", *idx)
	}
	out.Index = *idx
	out.Item = driver.items[*idx]
	out.Label = nil
	if driver.labels != nil {
		out.Label = driver.labels[*idx]
	}
	return nil
}

func (driver *serverDriver) Stats(none *int, out *sender.Stats) error {
	server, _, err := driver.current()
	if err != nil {
		return err
	}
	*out, err = server.Stats()
	return err
}

func (driver *serverDriver) GetOPRFTimer(none *int, out *time.Duration) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.oprfTime
	return nil
}

func (driver *serverDriver) GetQueryTimer(none *int, out *time.Duration) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.queryTime
	return nil
}

func (driver *serverDriver) GetOPRFBytes(none *int, out *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.oprfBytes
	return nil
}

func (driver *serverDriver) GetQueryBytes(none *int, out *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.queryBytes
	return nil
}

func (driver *serverDriver) ResetMetrics(none *int, none2 *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	driver.resetMetrics()
	return nil
}

func (driver *serverDriver) resetMetrics() {
	driver.oprfTime = 0
	driver.queryTime = 0
	driver.oprfBytes = 0
	driver.queryBytes = 0
}
