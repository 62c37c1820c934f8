package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"path"
	"strconv"
	"strings"
	"testing"
	"time"

	"psi"
	"psi/driver"
	"psi/receiver"

	"github.com/olekukonko/tablewriter"
	"gotest.tools/assert"
)

func main() {
	config := new(driver.Config).AddPSIFlags().AddClientFlags().AddBenchmarkFlags().Parse()

	var ep driver.ErrorPrinter

	prof, err := driver.NewProfiler(config.CpuProfile)
	if err != nil {
		log.Fatal(err)
	}
	defer prof.Close()

	fmt.Printf("# %s %s\n", path.Base(os.Args[0]), strings.Join(os.Args[1:], " "))

	psiDriver, err := config.ServerDriver()
	if err != nil {
		log.Fatalf("Failed to create driver: %s\n", err)
	}

	var none int
	if err := psiDriver.Configure(&config.TestConfig, &none); err != nil {
		log.Fatalf("Failed to configure driver: %s\n", err)
	}

	src := driver.RandSource()
	client := receiver.NewClient()

	result := testing.Benchmark(func(b *testing.B) {
		assert.NilError(ep, psiDriver.ResetMetrics(&none, &none))
		var totalTime time.Duration
		for i := 0; i < b.N; i++ {
			items, want := makeQuery(ep, psiDriver, src, config)

			start := time.Now()
			records, err := driver.RunQuery(psiDriver, client, items)
			totalTime += time.Since(start)
			assert.NilError(ep, err)
			for j := range records {
				assert.Equal(ep, records[j].Found, want[j])
			}
		}

		var oprfTime, queryTime time.Duration
		assert.NilError(ep, psiDriver.GetOPRFTimer(&none, &oprfTime))
		assert.NilError(ep, psiDriver.GetQueryTimer(&none, &queryTime))
		b.ReportMetric(float64(oprfTime.Microseconds())/float64(b.N), "oprf-us/op")
		b.ReportMetric(float64(queryTime.Microseconds())/float64(b.N), "query-us/op")
		b.ReportMetric(float64((totalTime-oprfTime-queryTime).Microseconds())/float64(b.N), "client-us/op")

		var oprfBytes, queryBytes int
		assert.NilError(ep, psiDriver.GetOPRFBytes(&none, &oprfBytes))
		assert.NilError(ep, psiDriver.GetQueryBytes(&none, &queryBytes))
		b.ReportMetric(float64(oprfBytes)/float64(b.N), "oprf-bytes/op")
		b.ReportMetric(float64(queryBytes)/float64(b.N), "query-bytes/op")
	})
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"numItems", "query", "OPRFServer[us]", "QueryServer[us]", "Client[us]", "OPRFBytes", "QueryBytes",
	})
	row := []string{strconv.Itoa(config.NumItems), strconv.Itoa(config.QuerySize)}
	for _, metric := range []string{"oprf-us/op", "query-us/op", "client-us/op", "oprf-bytes/op", "query-bytes/op"} {
		row = append(row, strconv.Itoa(int(result.Extra[metric])))
	}
	table.Append(row)
	table.Render()
}

// makeQuery mixes stored items, chosen at random, with fresh ones.
func makeQuery(ep driver.ErrorPrinter, psiDriver driver.PSIServerDriver, src *rand.Rand, config *driver.Config) ([]psi.Item, []bool) {
	items := driver.MakeItems(src, config.QuerySize)
	want := make([]bool, len(items))
	if config.NumItems == 0 {
		return items, want
	}
	for i := range items {
		if src.Float64() >= config.HitRate {
			continue
		}
		idx := src.Intn(config.NumItems)
		var stored driver.PresetItem
		assert.NilError(ep, psiDriver.GetItem(&idx, &stored))
		items[i] = stored.Item
		want[i] = true
	}
	return items, want
}
