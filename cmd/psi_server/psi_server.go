package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"psi/driver"
	"psi/oprf"
	"psi/rpc"
	"psi/sender"

	"github.com/fatih/color"
)

func main() {
	config := new(driver.Config).AddPSIFlags().AddServerFlags().Parse()

	prof, err := driver.NewProfiler(config.CpuProfile)
	if err != nil {
		log.Fatal(err)
	}
	defer prof.Close()

	var key *oprf.Key
	if config.OPRFKey != "" {
		key, err = oprf.LoadKeyFile(config.OPRFKey)
	} else {
		log.Println("No OPRF key given, using a fresh one")
		key, err = oprf.NewKey()
	}
	if err != nil {
		log.Fatalf("Failed to get OPRF key: %v", err)
	}

	psiDriver, closeData := serveData(config, key)
	defer closeData()
	key.Destroy()

	server, err := rpc.NewServer(config.Port, config.Transport, config.CertFile, config.KeyFile)
	if err != nil {
		log.Fatalf("Failed to create server: %s", err)
	}
	if err := server.RegisterName(driver.ServiceName, psiDriver); err != nil {
		log.Fatalf("Failed to register PSIServerDriver, %s", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		server.Close()
	}()

	var none, numItems int
	psiDriver.NumItems(&none, &numItems)
	color.New(color.FgGreen, color.Bold).Printf("PSI server: %d items, %s on %s\n",
		numItems, config.Transport, server.Addr())

	if err := server.Serve(); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}

// serveData sets up the driver from a database file, an items file or
// generated data, in that order of preference.
func serveData(config *driver.Config, key *oprf.Key) (driver.PSIServerDriver, func()) {
	switch {
	case config.DBFile != "":
		f, err := os.Open(config.DBFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		server, err := sender.LoadServer(f, key)
		f.Close()
		if err != nil {
			log.Fatalf("Failed to load database %s: %v", config.DBFile, err)
		}
		server.SetThreads(config.Threads)
		if !config.Watch {
			return driver.NewServerDriverFor(key, server), func() {}
		}
		watcher, err := driver.WatchDB(server, config.DBFile)
		if err != nil {
			log.Fatalf("Failed to watch %s: %v", config.DBFile, err)
		}
		return driver.NewServerDriverFor(key, server), func() { watcher.Close() }

	case config.ItemsFile != "":
		items, labels, err := driver.LoadItemsFile(config.ItemsFile)
		if err != nil {
			log.Fatal(err)
		}
		config.FitLabels(labels)
		ps, err := config.TestConfig.ParameterSet()
		if err != nil {
			log.Fatalf("Bad parameters: %v", err)
		}
		server, err := sender.NewServer(key, ps)
		if err != nil {
			log.Fatal(err)
		}
		server.SetThreads(config.Threads)
		if labels != nil {
			err = server.SetLabeledData(items, labels)
		} else {
			err = server.SetData(items)
		}
		if err != nil {
			log.Fatalf("Failed to set data: %v", err)
		}
		return driver.NewServerDriverFor(key, server), func() {}
	}

	psiDriver := driver.NewServerDriverFor(key, nil)
	var none int
	if err := psiDriver.Configure(&config.TestConfig, &none); err != nil {
		log.Fatalf("Failed to configure driver: %s\n", err)
	}
	return psiDriver, func() {}
}
