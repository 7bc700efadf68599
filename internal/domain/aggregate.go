package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimal places kept for averages.
const DefaultPrecision = 2

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	Precision int32 // decimal places kept for averages
}

// DefaultAggregateOptions rounds averages to DefaultPrecision places.
func DefaultAggregateOptions() AggregateOptions {
	return AggregateOptions{Precision: DefaultPrecision}
}

// HourGroup is the set of flat records sharing one hour bucket.
type HourGroup struct {
	Hour    time.Time
	Records []FlatRecord
}

// GroupByHour partitions records by hour. Groups are returned in ascending
// hour order and keep the input order within each group.
func GroupByHour(records []FlatRecord) []HourGroup {
	index := make(map[int64]int)
	var groups []HourGroup
	for _, r := range records {
		key := r.Hour.UnixNano()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, HourGroup{Hour: r.Hour.UTC()})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	slices.SortFunc(groups, func(a, b HourGroup) int { return a.Hour.Compare(b.Hour) })
	return groups
}

// Aggregate computes one HourlySummary per distinct hour in records.
func Aggregate(records []FlatRecord, opts AggregateOptions) []HourlySummary {
	groups := GroupByHour(records)
	out := make([]HourlySummary, len(groups))
	for i, g := range groups {
		out[i] = Summarize(g, opts)
	}
	return out
}

// Summarize folds one hour group into its summary statistics. Sums are kept
// in decimal so the result does not depend on record order.
func Summarize(g HourGroup, opts AggregateOptions) HourlySummary {
	var (
		dirCounts   = make(map[int]int)
		speedSum    decimal.Decimal
		speedN      int64
		maxCover    *int
		heightSum   int64
		heightN     int64
		commonDir   *int
		commonCount int
	)

	for _, r := range g.Records {
		if r.WindDirection != nil {
			d := *r.WindDirection
			dirCounts[d]++
			// Highest count wins; ties go to the smallest direction.
			if c := dirCounts[d]; c > commonCount || (c == commonCount && d < *commonDir) {
				v := d
				commonDir, commonCount = &v, c
			}
		}
		if r.WindSpeed != nil {
			speedSum = speedSum.Add(decimal.NewFromFloat(*r.WindSpeed))
			speedN++
		}
		if r.CloudCover != nil && (maxCover == nil || *r.CloudCover > *maxCover) {
			v := *r.CloudCover
			maxCover = &v
		}
		if r.CloudBaseHeight != nil {
			heightSum += int64(*r.CloudBaseHeight)
			heightN++
		}
	}

	s := HourlySummary{
		Hour:                g.Hour,
		CommonWindDirection: commonDir,
		MaxCloudCover:       maxCover,
	}
	if speedN > 0 {
		s.AvgWindSpeed = roundHalfUp(speedSum.Div(decimal.NewFromInt(speedN)), opts.Precision)
	}
	if heightN > 0 {
		s.AvgCloudBaseHeight = roundHalfUp(decimal.NewFromInt(heightSum).Div(decimal.NewFromInt(heightN)), opts.Precision)
	}
	return s
}

// roundHalfUp rounds d half away from zero, which is half-up for the
// non-negative speeds and heights seen here.
func roundHalfUp(d decimal.Decimal, places int32) *float64 {
	v, _ := d.Round(places).Float64()
	return &v
}
