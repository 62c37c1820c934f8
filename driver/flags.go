package driver

import (
	"flag"
	"fmt"
	"log"
	"os"

	"psi/params"
	"psi/rpc"
)

type Config struct {
	TestConfig

	Transport  string
	CpuProfile string
	ParamsFile string

	// For client
	ServerAddr    string
	UseTLS        bool
	UsePersistent bool

	// For server
	Port      int
	CertFile  string
	KeyFile   string
	OPRFKey   string
	DBFile    string
	ItemsFile string
	Watch     bool

	// For benchmarks
	QuerySize int
	HitRate   float64

	FlagSet *flag.FlagSet
}

func (c *Config) AddPSIFlags() *Config {
	c.FlagSet = flag.CommandLine
	c.FlagSet.IntVar(&c.NumItems, "numItems", 1000, "Num DB items")
	c.FlagSet.IntVar(&c.LabelLen, "labelLen", 0, "Label length in bytes (0: unlabeled)")
	c.FlagSet.StringVar(&c.ParamsFile, "params", "", "JSON parameter `file` (default: built-in parameters)")
	c.FlagSet.IntVar(&c.Threads, "threads", 0, "worker threads (0: one per CPU)")
	c.FlagSet.Int64Var(&c.DataRandSeed, "seed", 0, "seed for generated data (0: time based)")
	c.FlagSet.StringVar(&c.Transport, "transport", rpc.TCP, fmt.Sprintf("RPC transport: [%s|%s]", rpc.TCP, rpc.HTTP))
	c.FlagSet.StringVar(&c.CpuProfile, "cpuprofile", "", "write cpu profile to `file`")
	return c
}

func (c *Config) AddClientFlags() *Config {
	c.FlagSet.StringVar(&c.ServerAddr, "serverAddr", "", "<HOSTNAME>:<PORT> of server for RPC test")
	c.FlagSet.BoolVar(&c.UseTLS, "tls", false, "Should use TLS")
	c.FlagSet.BoolVar(&c.UsePersistent, "persistent", false, "Should use peristent connection to server")
	return c
}

func (c *Config) AddServerFlags() *Config {
	c.FlagSet.IntVar(&c.Port, "p", 12345, "Listening port")
	c.FlagSet.StringVar(&c.CertFile, "cert", "", "TLS certificate `file` (default: no TLS)")
	c.FlagSet.StringVar(&c.KeyFile, "certKey", "", "TLS private key `file`")
	c.FlagSet.StringVar(&c.OPRFKey, "key", "", "OPRF key `file` (default: fresh key)")
	c.FlagSet.StringVar(&c.DBFile, "db", "", "database `file` to serve")
	c.FlagSet.StringVar(&c.ItemsFile, "items", "", "CSV `file` of items and labels to serve")
	c.FlagSet.BoolVar(&c.Watch, "watch", false, "reload the database file when it changes")
	return c
}

func (c *Config) AddBenchmarkFlags() *Config {
	c.FlagSet.IntVar(&c.QuerySize, "querySize", 64, "items per query")
	c.FlagSet.Float64Var(&c.HitRate, "hitRate", 0.5, "fraction of queried items present in the database")
	c.MeasureBandwidth = true
	return c
}

func (c *Config) Parse() *Config {
	if c.FlagSet.Parsed() {
		return c
	}
	if err := c.FlagSet.Parse(os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
	if c.ParamsFile != "" {
		ps, err := params.LoadJSONFile(c.ParamsFile)
		if err != nil {
			log.Fatalf("Bad parameters file %s: %v\n", c.ParamsFile, err)
		}
		c.Params = ps.MustSave()
		c.LabelLen = ps.LabelByteCount()
	}
	return c
}

// ServerDriver returns a proxy when a server address is configured and an
// in-process driver otherwise.
func (c *Config) ServerDriver() (PSIServerDriver, error) {
	c.Parse()

	if c.ServerAddr != "" {
		proxy, err := NewRpcProxy(c.ServerAddr, c.Transport, c.UseTLS, c.UsePersistent)
		if err != nil {
			return nil, err
		}
		return proxy, nil
	}
	local, err := NewServerDriver()
	if err != nil {
		return nil, err
	}
	return local, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("%s/%s", c.Transport, c.TestConfig)
}
