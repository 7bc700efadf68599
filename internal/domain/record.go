package domain

import (
	"context"
	"time"
)

// RawRow is one undecoded line delivered by a loader. Value holds a single
// pipe-delimited record without the trailing newline.
type RawRow struct {
	Value  []byte
	Source string // file path or topic the row came from
	Offset int64  // line number (files) or partition offset (kafka)
	Commit func(ctx context.Context) error
}

// RawRecord is a typed forecast row. Nullable columns are pointers.
type RawRecord struct {
	StationID         string
	IssueTime         time.Time
	ForecastValidFrom time.Time
	ForecastValidTo   time.Time
	WindDirection     *int
	WindSpeed         *float64
	CloudCoverage     *string // JSON array of cloud layers
	Type              string
}

// CloudLayer is one element of a record's cloudCoverage array.
type CloudLayer struct {
	Cover      *int   `json:"cover"`
	BaseHeight *int   `json:"baseHeight"`
	Type       string `json:"type"`
}

// FlatRecord is a single (hour, cloud layer) observation produced by Expand.
type FlatRecord struct {
	Hour            time.Time
	WindDirection   *int
	WindSpeed       *float64
	CloudCover      *int
	CloudBaseHeight *int
}

// HourlySummary holds the aggregated statistics for one hour bucket.
type HourlySummary struct {
	Hour                time.Time `json:"hour"`
	CommonWindDirection *int      `json:"common_wind_dir"`
	AvgWindSpeed        *float64  `json:"avg_wind_speed"`
	MaxCloudCover       *int      `json:"max_cloud_cover"`
	AvgCloudBaseHeight  *float64  `json:"avg_cloud_baseHeight"`
}
