// Package domain models weather-station forecast records and the pure
// transformations applied to them.
//
// # Input rows
//
// Each input line carries eight pipe-delimited columns and no header:
//
//	stationId|issueTime|forecastValidFrom|forecastValidTo|windDirection|windSpeed|cloudCoverage|type
//
// stationId and the three timestamps are required; a row missing one of them
// cannot be typed and is reported as a [SchemaError]. windDirection,
// windSpeed and cloudCoverage are nullable: an empty or unparseable value
// becomes nil. Timestamps without a zone are read in the loader's location
// (UTC by default) and normalised to UTC.
//
// cloudCoverage is a JSON array of layer objects, for example:
//
//	[{"cover":2,"baseHeight":500,"type":"SCT"},{"cover":4,"baseHeight":1000,"type":"BKN"}]
//
// # Expansion
//
// [Expand] pairs every hour of a record's validity window with every cloud
// layer. A record with no layers, or whose window is inverted, yields
// nothing. The window is walked from forecastValidFrom in whole intervals
// while the step is not after forecastValidTo, giving
// floor((validTo-validFrom)/interval)+1 steps. Each step is truncated to its
// bucket, so 00:30 to 01:10 yields only the 00:00 bucket while 00:30 to
// 01:30 yields 00:00 and 01:00.
//
// # Aggregation
//
// [Aggregate] groups flat records by hour:
//
//	common_wind_dir       mode of non-null wind directions; ties pick the smallest value
//	avg_wind_speed        mean of non-null wind speeds, rounded half-up
//	max_cloud_cover       maximum non-null cover
//	avg_cloud_baseHeight  mean of non-null base heights, rounded half-up
//
// A column with no non-null inputs aggregates to nil.
package domain
