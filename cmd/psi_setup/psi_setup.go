package main

import (
	"flag"
	"log"
	"os"

	"psi"
	"psi/driver"
	"psi/oprf"
	"psi/sender"
)

// Writes a fresh OPRF key, the parameter set, and optionally a database
// built from an items file, for psi_server to load.
func main() {
	keyOut := flag.String("keyOut", "oprf.key", "write the OPRF key to `file`")
	paramsOut := flag.String("paramsOut", "params.json", "write the parameter set to `file`")
	itemsFile := flag.String("items", "", "CSV `file` of items and labels")
	dbOut := flag.String("dbOut", "", "write a database built from -items to `file`")
	config := new(driver.Config).AddPSIFlags().Parse()
	if (*itemsFile == "") != (*dbOut == "") {
		log.Fatalf("-items and -dbOut must be given together")
	}

	var items []psi.Item
	var labels [][]byte
	if *itemsFile != "" {
		var err error
		if items, labels, err = driver.LoadItemsFile(*itemsFile); err != nil {
			log.Fatal(err)
		}
		config.FitLabels(labels)
	}

	ps, err := config.TestConfig.ParameterSet()
	if err != nil {
		log.Fatalf("Bad parameters: %v", err)
	}
	blob, err := ps.Save()
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*paramsOut, blob, 0644); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote parameters %s to %s\n", ps, *paramsOut)

	key, err := oprf.NewKey()
	if err != nil {
		log.Fatal(err)
	}
	defer key.Destroy()
	if err := key.SaveFile(*keyOut); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote OPRF key to %s\n", *keyOut)

	if *dbOut == "" {
		return
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
		log.Fatalf("Failed to build database: %v", err)
	}
	if err := server.SaveFile(*dbOut); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote database with %d items to %s\n", server.Size(), *dbOut)
}
