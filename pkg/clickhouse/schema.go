package clickhouse

import "fmt"

// CandlesTable is the table finalized candles are written to.
const CandlesTable = "candles"

// CandleSchema returns the DDL for the candles table. ReplacingMergeTree keeps
// the latest write of a bucket when a candle is flushed more than once.
func CandleSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ticker     LowCardinality(String),
	resolution LowCardinality(String),
	ts         DateTime64(3, 'UTC'),
	open       Float64,
	high       Float64,
	low        Float64,
	close      Float64,
	volume     Float64,
	updated_at DateTime64(3, 'UTC') DEFAULT now64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (ticker, resolution, ts)`, database, CandlesTable),
	}
}
