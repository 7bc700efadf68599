// Command validate re-derives the hourly summaries from an input file and
// checks them against a SQLite output table written by the ETL. It verifies
// partitioning (one row per hour), rounding, and value equality.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -input data/DataSamplewithpipe.csv \
//	  -sqlite data/weather.db \
//	  -table weather_pattern
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/weather-pattern-etl/internal/adapter/file"
	sqliteadapter "github.com/couchcryptid/weather-pattern-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/weather-pattern-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	input     string
	sqlite    string
	table     string
	precision int
	interval  time.Duration
	timezone  string
}

func main() {
	var o options
	flag.StringVar(&o.input, "input", "data/DataSamplewithpipe.csv", "input file or glob")
	flag.StringVar(&o.sqlite, "sqlite", "data/weather.db", "sqlite database written by the ETL")
	flag.StringVar(&o.table, "table", "weather_pattern", "output table name")
	flag.IntVar(&o.precision, "precision", domain.DefaultPrecision, "decimal places used for averages")
	flag.DurationVar(&o.interval, "interval", domain.DefaultInterval, "expansion interval")
	flag.StringVar(&o.timezone, "tz", "UTC", "location for zoneless timestamps")
	flag.Parse()

	os.Exit(run(o))
}

func run(o options) int {
	ctx := context.Background()

	fmt.Println("=== Weather Pattern Output Validation ===")
	fmt.Println()

	loc, err := time.LoadLocation(o.timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid -tz: %v\n", err)
		return 1
	}

	records, typing, err := loadRecords(ctx, o.input, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load input: %v\n", err)
		return 1
	}

	db, err := sqliteadapter.Open(o.sqlite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open sqlite: %v\n", err)
		return 1
	}
	defer db.Close()

	actual, err := sqliteadapter.ReadSummaries(ctx, db, o.table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read table: %v\n", err)
		return 1
	}

	var flat []domain.FlatRecord
	for _, rec := range records {
		for fr := range domain.Expand(rec, domain.ExpandOptions{Interval: o.interval}) {
			flat = append(flat, fr)
		}
	}
	expected := domain.Aggregate(flat, domain.AggregateOptions{Precision: int32(o.precision)})

	phases := []*phase{
		typing,
		validatePartitioning(actual, o.interval),
		validateRounding(actual, o.precision),
		validateValues(expected, actual),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d typed, %d flat, %d expected hours, %d table rows\n",
		len(records), len(flat), len(expected), len(actual))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Input typing ──
// Schema errors are reported but do not fail the phase; the ETL skips them too.

func loadRecords(ctx context.Context, input string, loc *time.Location) ([]domain.RawRecord, *phase, error) {
	p := &phase{name: "Phase 1: Input Typing (row schema)"}

	loader, err := file.NewLoader(input, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, nil, err
	}
	defer loader.Close()

	var (
		records      []domain.RawRecord
		schemaErrors int
	)
	for {
		rows, err := loader.ExtractBatch(ctx, 1000)
		done := errors.Is(err, io.EOF)
		if err != nil && !done {
			return nil, nil, err
		}
		for _, row := range rows {
			rec, err := domain.ParseRawRow(row, loc)
			if err != nil {
				if !domain.IsSchemaError(err) {
					p.errorf("%v", err)
				}
				schemaErrors++
				continue
			}
			records = append(records, rec)
		}
		if done {
			break
		}
	}
	if len(records) == 0 {
		p.errorf("no typed records in %s", input)
	}
	if schemaErrors > 0 {
		fmt.Printf("  Note: %d row(s) failed the schema and were skipped\n", schemaErrors)
	}
	return records, p, nil
}

// ── Phase 2: Partitioning ──
// Each bucket appears exactly once and is aligned to the interval.

func validatePartitioning(actual []domain.HourlySummary, interval time.Duration) *phase {
	p := &phase{name: "Phase 2: Partitioning (one row per hour)"}
	seen := make(map[int64]int, len(actual))
	for i, s := range actual {
		if prev, ok := seen[s.Hour.Unix()]; ok {
			p.errorf("row %d: hour %s already present at row %d", i, s.Hour.Format(time.RFC3339), prev)
		}
		seen[s.Hour.Unix()] = i
		if !s.Hour.Equal(s.Hour.Truncate(interval)) {
			p.errorf("row %d: hour %s is not on an interval boundary", i, s.Hour.Format(time.RFC3339))
		}
	}
	return p
}

// ── Phase 3: Rounding ──

func validateRounding(actual []domain.HourlySummary, precision int) *phase {
	p := &phase{name: "Phase 3: Rounding (average precision)"}
	check := func(i int, col string, v *float64) {
		if v == nil {
			return
		}
		d := decimal.NewFromFloat(*v)
		if !d.Equal(d.Round(int32(precision))) {
			p.errorf("row %d: %s=%v has more than %d decimal places", i, col, *v, precision)
		}
	}
	for i, s := range actual {
		check(i, "avg_wind_speed", s.AvgWindSpeed)
		check(i, "avg_cloud_baseHeight", s.AvgCloudBaseHeight)
	}
	return p
}

// ── Phase 4: Values ──

func validateValues(expected, actual []domain.HourlySummary) *phase {
	p := &phase{name: "Phase 4: Values (re-derived vs table)"}

	if len(expected) != len(actual) {
		p.errorf("row count: expected %d, got %d", len(expected), len(actual))
	}

	byHour := make(map[int64]domain.HourlySummary, len(actual))
	for _, s := range actual {
		byHour[s.Hour.Unix()] = s
	}
	for _, want := range expected {
		got, ok := byHour[want.Hour.Unix()]
		hour := want.Hour.Format(time.RFC3339)
		if !ok {
			p.errorf("hour %s: missing from table", hour)
			continue
		}
		if !ptrIntEq(want.CommonWindDirection, got.CommonWindDirection) {
			p.errorf("hour %s: common_wind_dir: expected %s, got %s", hour, ptrStr(want.CommonWindDirection), ptrStr(got.CommonWindDirection))
		}
		if !ptrFloatEq(want.AvgWindSpeed, got.AvgWindSpeed) {
			p.errorf("hour %s: avg_wind_speed: expected %s, got %s", hour, ptrStr(want.AvgWindSpeed), ptrStr(got.AvgWindSpeed))
		}
		if !ptrIntEq(want.MaxCloudCover, got.MaxCloudCover) {
			p.errorf("hour %s: max_cloud_cover: expected %s, got %s", hour, ptrStr(want.MaxCloudCover), ptrStr(got.MaxCloudCover))
		}
		if !ptrFloatEq(want.AvgCloudBaseHeight, got.AvgCloudBaseHeight) {
			p.errorf("hour %s: avg_cloud_baseHeight: expected %s, got %s", hour, ptrStr(want.AvgCloudBaseHeight), ptrStr(got.AvgCloudBaseHeight))
		}
	}
	return p
}

// ── Helpers ──

func ptrIntEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrFloatEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return math.Abs(*a-*b) < 1e-9
}

func ptrStr[T any](v *T) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprint(*v)
}
