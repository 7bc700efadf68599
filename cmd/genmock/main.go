// Command genmock writes a deterministic pipe-delimited forecast fixture.
// A share of the rows is deliberately degenerate (null, empty, or malformed
// cloud coverage, inverted validity windows, null wind, rows that fail the
// schema) so every branch of the pipeline is exercised.
//
// Usage:
//
//	go run ./cmd/genmock -out data/DataSamplewithpipe.csv -records 500 -seed 7
//
// An output path ending in .gz or .zst is compressed accordingly.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

var stations = []string{"EGLL", "EGKK", "KJFK", "KORD", "LFPG", "EDDF", "RJTT", "YSSY", "CYYZ", "OMDB"}

var coverTypes = []string{"FEW", "SCT", "BKN", "OVC"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/DataSamplewithpipe.csv", "output path (.csv, .csv.gz, .csv.zst)")
	records := flag.Int("records", 500, "number of rows to generate")
	seed := flag.Uint64("seed", 7, "random seed")
	start := flag.String("start", "2023-01-01T00:00:00Z", "earliest issue time (RFC3339)")
	flag.Parse()

	if *records <= 0 {
		return fmt.Errorf("-records must be positive")
	}
	base, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	lines, stats := generate(*records, *seed, base.UTC())

	if err := writeLines(*out, lines); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d rows to %s", len(lines), *out)

	stats.print()
	return nil
}

type genStats struct {
	rows          int
	schemaErrors  int
	emptyExpand   int
	flatRecords   int
	distinctHours map[time.Time]struct{}
}

func (s genStats) print() {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Rows: %d\n", s.rows)
	fmt.Printf("Schema errors: %d\n", s.schemaErrors)
	fmt.Printf("Records expanding to nothing: %d\n", s.emptyExpand)
	fmt.Printf("Flat records: %d\n", s.flatRecords)
	fmt.Printf("Distinct hours: %d\n", len(s.distinctHours))
}

func generate(n int, seed uint64, base time.Time) ([]string, genStats) {
	rng := rand.New(rand.NewPCG(seed, seed^0x5deece66d))
	stats := genStats{distinctHours: map[time.Time]struct{}{}}
	lines := make([]string, 0, n)

	for i := range n {
		var line string
		if i%53 == 52 {
			// Missing columns; fails the row schema.
			line = strings.Join([]string{stations[rng.IntN(len(stations))], base.Format(time.RFC3339), "TAF"}, string(domain.Delimiter))
			stats.schemaErrors++
		} else {
			rec := randomRecord(rng, i, base)
			line = domain.FormatRow(rec)
			if domain.ExpandCount(rec, domain.ExpandOptions{}) == 0 {
				stats.emptyExpand++
			}
			for fr := range domain.Expand(rec, domain.ExpandOptions{}) {
				stats.flatRecords++
				stats.distinctHours[fr.Hour] = struct{}{}
			}
		}
		lines = append(lines, line)
		stats.rows++
	}
	return lines, stats
}

func randomRecord(rng *rand.Rand, i int, base time.Time) domain.RawRecord {
	issue := base.Add(time.Duration(rng.IntN(72)) * time.Hour)
	from := issue.Add(time.Duration(rng.IntN(6*60)) * time.Minute)
	to := from.Add(time.Duration(1+rng.IntN(12*60)) * time.Minute)

	rec := domain.RawRecord{
		StationID:         stations[rng.IntN(len(stations))],
		IssueTime:         issue,
		ForecastValidFrom: from,
		ForecastValidTo:   to,
		Type:              "TAF",
	}
	if rng.IntN(4) == 0 {
		rec.Type = "METAR"
	}
	if rng.IntN(10) > 0 {
		rec.WindDirection = ptr(10 * rng.IntN(36))
	}
	if rng.IntN(10) > 0 {
		rec.WindSpeed = ptr(float64(rng.IntN(450)) / 10)
	}

	coverage := randomCoverage(rng)
	rec.CloudCoverage = &coverage

	switch i % 17 {
	case 3:
		rec.ForecastValidFrom, rec.ForecastValidTo = rec.ForecastValidTo, rec.ForecastValidFrom
	case 5:
		rec.CloudCoverage = nil
	case 7:
		empty := "[]"
		rec.CloudCoverage = &empty
	case 11:
		malformed := `[{"cover":3,`
		rec.CloudCoverage = &malformed
	case 13:
		withNull := `[null,{"cover":2,"baseHeight":800,"type":"FEW"}]`
		rec.CloudCoverage = &withNull
	}
	return rec
}

func randomCoverage(rng *rand.Rand) string {
	layers := 1 + rng.IntN(3)
	parts := make([]string, layers)
	for j := range parts {
		height := "null"
		if rng.IntN(8) > 0 {
			height = fmt.Sprint(500 * (1 + rng.IntN(20)))
		}
		parts[j] = fmt.Sprintf(`{"cover":%d,"baseHeight":%s,"type":%q}`,
			rng.IntN(9), height, coverTypes[rng.IntN(len(coverTypes))])
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func writeLines(path string, lines []string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.WriteCloser = nopWriteCloser{f}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		w = pgzip.NewWriter(f)
	case ".zst", ".zstd":
		if w, err = zstd.NewWriter(f); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := bw.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func ptr[T any](v T) *T { return &v }
