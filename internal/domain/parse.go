package domain

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Column positions of the fixed input schema.
const (
	ColStationID = iota
	ColIssueTime
	ColValidFrom
	ColValidTo
	ColWindDirection
	ColWindSpeed
	ColCloudCoverage
	ColType

	NumColumns
)

// Delimiter separates columns in an input row.
const Delimiter = '|'

var columnNames = [NumColumns]string{
	"stationId", "issueTime", "forecastValidFrom", "forecastValidTo",
	"windDirection", "windSpeed", "cloudCoverage", "type",
}

// timestampLayouts are tried in order. Layouts without a zone are parsed in
// the caller's location.
var timestampLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// SchemaError reports a row that could not be typed against the input schema.
// It is distinct from a typed record whose statistics later aggregate to nil.
type SchemaError struct {
	Source string
	Offset int64
	Column string // empty when the row as a whole is malformed
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema violation at %s:%d: %s", e.Source, e.Offset, e.Reason)
	}
	return fmt.Sprintf("schema violation at %s:%d: column %s: %s", e.Source, e.Offset, e.Column, e.Reason)
}

// IsSchemaError reports whether err wraps a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// ParseRawRow types one pipe-delimited row. Required columns that are missing
// or unparseable produce a *SchemaError; nullable columns fall back to nil.
// A nil loc means UTC.
func ParseRawRow(row RawRow, loc *time.Location) (RawRecord, error) {
	if loc == nil {
		loc = time.UTC
	}
	schemaErr := func(col int, format string, args ...any) error {
		se := &SchemaError{Source: row.Source, Offset: row.Offset, Reason: fmt.Sprintf(format, args...)}
		if col >= 0 {
			se.Column = columnNames[col]
		}
		return se
	}

	fields, err := splitRow(row.Value)
	if err != nil {
		return RawRecord{}, schemaErr(-1, "%v", err)
	}
	if len(fields) != NumColumns {
		return RawRecord{}, schemaErr(-1, "expected %d columns, got %d", NumColumns, len(fields))
	}

	stationID := strings.TrimSpace(fields[ColStationID])
	if stationID == "" {
		return RawRecord{}, schemaErr(ColStationID, "required value is empty")
	}

	var times [3]time.Time
	for i, col := range []int{ColIssueTime, ColValidFrom, ColValidTo} {
		t, err := ParseTimestamp(fields[col], loc)
		if err != nil {
			return RawRecord{}, schemaErr(col, "%v", err)
		}
		times[i] = t
	}

	return RawRecord{
		StationID:         stationID,
		IssueTime:         times[0],
		ForecastValidFrom: times[1],
		ForecastValidTo:   times[2],
		WindDirection:     parseNullableInt(fields[ColWindDirection]),
		WindSpeed:         parseNullableFloat(fields[ColWindSpeed]),
		CloudCoverage:     parseNullableString(fields[ColCloudCoverage]),
		Type:              strings.TrimSpace(fields[ColType]),
	}, nil
}

func splitRow(line []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(line))
	r.Comma = Delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	fields, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty row")
	}
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// ParseTimestamp parses s with the supported layouts and returns it in UTC.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("required value is empty")
	}
	for _, l := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseNullableInt reads a 32-bit integer column; values outside that range
// are null like any other unparseable value.
func parseNullableInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	n := int(v)
	return &n
}

// parseNullableFloat treats NaN and infinities as null so they cannot poison averages.
func parseNullableFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseNullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// FormatRow renders a record in the input schema. It is the inverse of
// ParseRawRow for records whose timestamps are in UTC.
func FormatRow(rec RawRecord) string {
	fields := make([]string, NumColumns)
	fields[ColStationID] = rec.StationID
	fields[ColIssueTime] = rec.IssueTime.UTC().Format(time.RFC3339)
	fields[ColValidFrom] = rec.ForecastValidFrom.UTC().Format(time.RFC3339)
	fields[ColValidTo] = rec.ForecastValidTo.UTC().Format(time.RFC3339)
	if rec.WindDirection != nil {
		fields[ColWindDirection] = strconv.Itoa(*rec.WindDirection)
	}
	if rec.WindSpeed != nil {
		fields[ColWindSpeed] = strconv.FormatFloat(*rec.WindSpeed, 'f', -1, 64)
	}
	if rec.CloudCoverage != nil {
		fields[ColCloudCoverage] = *rec.CloudCoverage
	}
	fields[ColType] = rec.Type
	return strings.Join(fields, string(Delimiter))
}
