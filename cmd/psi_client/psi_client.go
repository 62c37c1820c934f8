package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"psi"
	"psi/driver"
	"psi/receiver"

	"github.com/fatih/color"
)

// Queries a PSI server for the items given as arguments, or one per line on
// stdin when the only argument is "-".
func main() {
	config := new(driver.Config).AddPSIFlags().AddClientFlags().Parse()
	if config.ServerAddr == "" {
		log.Fatalf("Missing -serverAddr")
	}

	names := flag.Args()
	if len(names) == 1 && names[0] == "-" {
		names = names[:0]
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			names = append(names, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Fatal(err)
		}
	}
	if len(names) == 0 {
		log.Fatalf("No items to query")
	}
	items := make([]psi.Item, len(names))
	for i, name := range names {
		items[i] = psi.ItemFromString(name)
	}

	fmt.Printf("Connecting to %s...", config.ServerAddr)
	proxy, err := config.ServerDriver()
	if err != nil {
		log.Fatal("Connection error: ", err)
	}
	fmt.Printf("[OK]\n")

	records, err := driver.RunQuery(proxy, receiver.NewClient(), items)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	found := color.New(color.FgGreen)
	missing := color.New(color.FgRed)
	for i, rec := range records {
		if !rec.Found {
			missing.Printf("%-8s", "miss")
			fmt.Println(names[i])
			continue
		}
		found.Printf("%-8s", "match")
		if rec.Label != nil {
			fmt.Printf("%s\t%q\n", names[i], rec.Label)
		} else {
			fmt.Println(names[i])
		}
	}
	fmt.Printf("%d of %d items found\n", len(psi.Intersect(items, records)), len(items))
}
