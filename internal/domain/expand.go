package domain

import (
	"encoding/json"
	"iter"
	"math"
	"strings"
	"time"
)

// DefaultInterval is the step between expanded timestamps.
const DefaultInterval = time.Hour

// ExpandOptions configures Expand. The zero value expands hourly.
type ExpandOptions struct {
	Interval time.Duration
}

func (o ExpandOptions) interval() time.Duration {
	if o.Interval <= 0 {
		return DefaultInterval
	}
	return o.Interval
}

// ParseCloudCoverage decodes a cloudCoverage value. Null, empty and malformed
// input all yield no layers; the error is never surfaced. A JSON null element
// inside a well-formed array becomes a layer with nil cover and base height,
// and a cover or base height outside the 32-bit range is nil.
func ParseCloudCoverage(raw *string) []CloudLayer {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	var layers []CloudLayer
	if err := json.Unmarshal([]byte(s), &layers); err != nil {
		return nil
	}
	for i := range layers {
		layers[i].Cover = int32OrNil(layers[i].Cover)
		layers[i].BaseHeight = int32OrNil(layers[i].BaseHeight)
	}
	return layers
}

// int32OrNil nulls integers the layer schema cannot hold.
func int32OrNil(v *int) *int {
	if v == nil || *v < math.MinInt32 || *v > math.MaxInt32 {
		return nil
	}
	return v
}

// HourSequence steps from from to to inclusive by interval and yields each
// step truncated to its interval bucket in UTC. The sequence is empty when
// from is after to, and a single point when they are equal.
func HourSequence(from, to time.Time, interval time.Duration) iter.Seq[time.Time] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return func(yield func(time.Time) bool) {
		for t := from; !t.After(to); t = t.Add(interval) {
			if !yield(t.UTC().Truncate(interval)) {
				return
			}
		}
	}
}

// HourCount returns the length of HourSequence without iterating it:
// floor((to-from)/interval)+1, or 0 for an inverted window.
func HourCount(from, to time.Time, interval time.Duration) int {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if from.After(to) {
		return 0
	}
	return int(to.Sub(from)/interval) + 1
}

// Expand returns the cross-product of rec's hour sequence and its cloud
// layers. The sequence is lazy and pure: ranging over it again re-derives the
// same records.
func Expand(rec RawRecord, opts ExpandOptions) iter.Seq[FlatRecord] {
	interval := opts.interval()
	return func(yield func(FlatRecord) bool) {
		layers := ParseCloudCoverage(rec.CloudCoverage)
		if len(layers) == 0 {
			return
		}
		for hour := range HourSequence(rec.ForecastValidFrom, rec.ForecastValidTo, interval) {
			for _, layer := range layers {
				flat := FlatRecord{
					Hour:            hour,
					WindDirection:   rec.WindDirection,
					WindSpeed:       rec.WindSpeed,
					CloudCover:      layer.Cover,
					CloudBaseHeight: layer.BaseHeight,
				}
				if !yield(flat) {
					return
				}
			}
		}
	}
}

// ExpandCount returns the number of records Expand would yield for rec.
func ExpandCount(rec RawRecord, opts ExpandOptions) int {
	layers := ParseCloudCoverage(rec.CloudCoverage)
	if len(layers) == 0 {
		return 0
	}
	return HourCount(rec.ForecastValidFrom, rec.ForecastValidTo, opts.interval()) * len(layers)
}
