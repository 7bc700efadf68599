package domain

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(hour time.Time, dir *int, speed *float64, cover, height *int) FlatRecord {
	return FlatRecord{Hour: hour, WindDirection: dir, WindSpeed: speed, CloudCover: cover, CloudBaseHeight: height}
}

func TestAggregate_MajorityWindDirection(t *testing.T) {
	layer := `[{"cover":3,"baseHeight":800,"type":"SCT"}]`
	records := []RawRecord{
		newRecord(at(0, 0), at(0, 0), ptr(layer)),
		newRecord(at(0, 0), at(0, 0), ptr(layer)),
		newRecord(at(0, 0), at(0, 0), ptr(layer)),
	}
	records[0].WindSpeed = ptr(10.0)
	records[1].WindSpeed = ptr(12.0)
	records[2].WindDirection = ptr(90)
	records[2].WindSpeed = ptr(14.5)

	var flats []FlatRecord
	for _, r := range records {
		flats = slices.AppendSeq(flats, Expand(r, ExpandOptions{}))
	}

	summaries := Aggregate(flats, DefaultAggregateOptions())
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, at(0, 0), s.Hour)
	require.NotNil(t, s.CommonWindDirection)
	assert.Equal(t, 270, *s.CommonWindDirection)
	require.NotNil(t, s.AvgWindSpeed)
	assert.Equal(t, 12.17, *s.AvgWindSpeed)
	require.NotNil(t, s.MaxCloudCover)
	assert.Equal(t, 3, *s.MaxCloudCover)
	require.NotNil(t, s.AvgCloudBaseHeight)
	assert.Equal(t, 800.0, *s.AvgCloudBaseHeight)
}

func TestAggregate_ExpandedScenario(t *testing.T) {
	rec := newRecord(at(0, 0), at(2, 0), ptr(twoLayers))
	summaries := Aggregate(slices.Collect(Expand(rec, ExpandOptions{})), DefaultAggregateOptions())

	want := []HourlySummary{
		{Hour: at(0, 0), CommonWindDirection: ptr(270), AvgWindSpeed: ptr(12.3), MaxCloudCover: ptr(4), AvgCloudBaseHeight: ptr(750.0)},
		{Hour: at(1, 0), CommonWindDirection: ptr(270), AvgWindSpeed: ptr(12.3), MaxCloudCover: ptr(4), AvgCloudBaseHeight: ptr(750.0)},
		{Hour: at(2, 0), CommonWindDirection: ptr(270), AvgWindSpeed: ptr(12.3), MaxCloudCover: ptr(4), AvgCloudBaseHeight: ptr(750.0)},
	}
	if diff := cmp.Diff(want, summaries); diff != "" {
		t.Fatalf("summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_ModeTieBreak(t *testing.T) {
	tests := []struct {
		name string
		dirs []*int
		want *int
	}{
		{"single value", []*int{ptr(180)}, ptr(180)},
		{"tie picks smallest", []*int{ptr(270), ptr(90)}, ptr(90)},
		{"tie picks smallest regardless of order", []*int{ptr(90), ptr(270)}, ptr(90)},
		{"three-way tie", []*int{ptr(300), ptr(10), ptr(200)}, ptr(10)},
		{"majority beats smaller value", []*int{ptr(10), ptr(350), ptr(350)}, ptr(350)},
		{"late majority", []*int{ptr(10), ptr(20), ptr(20), ptr(10), ptr(20)}, ptr(20)},
		{"nulls ignored", []*int{nil, nil, ptr(45)}, ptr(45)},
		{"all null", []*int{nil, nil}, nil},
		{"negative values", []*int{ptr(-5), ptr(5)}, ptr(-5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := HourGroup{Hour: at(0, 0)}
			for _, d := range tt.dirs {
				g.Records = append(g.Records, flat(at(0, 0), d, nil, ptr(1), ptr(100)))
			}
			s := Summarize(g, DefaultAggregateOptions())
			assert.Equal(t, tt.want, s.CommonWindDirection)
		})
	}
}

func TestSummarize_Rounding(t *testing.T) {
	tests := []struct {
		name    string
		speeds  []float64
		heights []int
		speed   float64
		height  float64
	}{
		{"repeating decimal", []float64{12.3, 12.3, 12.4}, []int{1, 2, 2}, 12.33, 1.67},
		{"half rounds up", []float64{2.675}, []int{1, 2, 2, 2, 2, 2, 2, 2}, 2.68, 1.88},
		{"exact value", []float64{10, 20}, []int{500, 1000}, 15, 750},
		{"one eighth", []float64{0.125}, []int{0, 1, 0, 0, 0, 0, 0, 0}, 0.13, 0.13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := HourGroup{Hour: at(0, 0)}
			for _, s := range tt.speeds {
				g.Records = append(g.Records, flat(at(0, 0), nil, ptr(s), nil, nil))
			}
			for _, h := range tt.heights {
				g.Records = append(g.Records, flat(at(0, 0), nil, nil, nil, ptr(h)))
			}
			s := Summarize(g, DefaultAggregateOptions())
			require.NotNil(t, s.AvgWindSpeed)
			require.NotNil(t, s.AvgCloudBaseHeight)
			assert.Equal(t, tt.speed, *s.AvgWindSpeed)
			assert.Equal(t, tt.height, *s.AvgCloudBaseHeight)
		})
	}
}

func TestSummarize_CustomPrecision(t *testing.T) {
	g := HourGroup{Hour: at(0, 0), Records: []FlatRecord{
		flat(at(0, 0), nil, ptr(1.0), nil, ptr(1)),
		flat(at(0, 0), nil, ptr(2.0), nil, ptr(1)),
		flat(at(0, 0), nil, ptr(2.0), nil, ptr(2)),
	}}

	s := Summarize(g, AggregateOptions{Precision: 0})
	assert.Equal(t, 2.0, *s.AvgWindSpeed)
	assert.Equal(t, 1.0, *s.AvgCloudBaseHeight)

	s = Summarize(g, AggregateOptions{Precision: 4})
	assert.Equal(t, 1.6667, *s.AvgWindSpeed)
	assert.Equal(t, 1.3333, *s.AvgCloudBaseHeight)
}

func TestSummarize_AllNullColumns(t *testing.T) {
	g := HourGroup{Hour: at(5, 0), Records: []FlatRecord{
		flat(at(5, 0), nil, nil, nil, nil),
		flat(at(5, 0), nil, nil, nil, nil),
	}}

	s := Summarize(g, DefaultAggregateOptions())
	assert.Equal(t, HourlySummary{Hour: at(5, 0)}, s)
}

func TestSummarize_EmptyGroup(t *testing.T) {
	s := Summarize(HourGroup{Hour: at(5, 0)}, DefaultAggregateOptions())
	assert.Equal(t, HourlySummary{Hour: at(5, 0)}, s)
}

func TestSummarize_MaxCloudCoverSkipsNulls(t *testing.T) {
	g := HourGroup{Hour: at(0, 0), Records: []FlatRecord{
		flat(at(0, 0), nil, nil, nil, nil),
		flat(at(0, 0), nil, nil, ptr(2), nil),
		flat(at(0, 0), nil, nil, ptr(7), nil),
		flat(at(0, 0), nil, nil, ptr(5), nil),
	}}
	s := Summarize(g, DefaultAggregateOptions())
	assert.Equal(t, ptr(7), s.MaxCloudCover)
}

func TestAggregate_EmptyInput(t *testing.T) {
	assert.Empty(t, Aggregate(nil, DefaultAggregateOptions()))
}

func TestAggregate_PartitionsByHour(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	var flats []FlatRecord
	for range 500 {
		hour := at(0, 0).Add(time.Duration(rng.IntN(48)) * time.Hour)
		flats = append(flats, flat(hour, ptr(rng.IntN(36)*10), ptr(float64(rng.IntN(400))/10), ptr(rng.IntN(9)), ptr(rng.IntN(30)*100)))
	}

	summaries := Aggregate(flats, DefaultAggregateOptions())

	hours := map[time.Time]int{}
	for _, f := range flats {
		hours[f.Hour]++
	}
	assert.Len(t, summaries, len(hours))

	seen := map[time.Time]bool{}
	for _, s := range summaries {
		assert.False(t, seen[s.Hour], "hour %s summarised twice", s.Hour)
		seen[s.Hour] = true
		assert.Contains(t, hours, s.Hour)
	}
	assert.True(t, slices.IsSortedFunc(summaries, func(a, b HourlySummary) int { return a.Hour.Compare(b.Hour) }))

	// Re-aggregating the same input, even shuffled, yields identical values.
	shuffled := slices.Clone(flats)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if diff := cmp.Diff(summaries, Aggregate(shuffled, DefaultAggregateOptions())); diff != "" {
		t.Fatalf("re-aggregation mismatch (-first +second):\n%s", diff)
	}
}

func TestAggregate_RoundedToTwoPlaces(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	var flats []FlatRecord
	for range 200 {
		hour := at(0, 0).Add(time.Duration(rng.IntN(6)) * time.Hour)
		flats = append(flats, flat(hour, nil, ptr(rng.Float64()*50), nil, ptr(rng.IntN(5000))))
	}

	for _, s := range Aggregate(flats, DefaultAggregateOptions()) {
		for _, v := range []*float64{s.AvgWindSpeed, s.AvgCloudBaseHeight} {
			require.NotNil(t, v)
			scaled := *v * 100
			assert.InDelta(t, scaled, float64(int64(scaled+0.5)), 1e-6, "value %v has more than two decimals", *v)
		}
	}
}

func TestGroupByHour_KeepsInputOrderWithinGroup(t *testing.T) {
	flats := []FlatRecord{
		flat(at(1, 0), ptr(1), nil, nil, nil),
		flat(at(0, 0), ptr(2), nil, nil, nil),
		flat(at(1, 0), ptr(3), nil, nil, nil),
	}
	groups := GroupByHour(flats)
	require.Len(t, groups, 2)
	assert.Equal(t, at(0, 0), groups[0].Hour)
	assert.Equal(t, at(1, 0), groups[1].Hour)
	assert.Equal(t, 1, *groups[1].Records[0].WindDirection)
	assert.Equal(t, 3, *groups[1].Records[1].WindDirection)
}
