package repository

// ClickHouseSchema creates the snapshot and aggregation tables.
var ClickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id                 String,
		monitor_id         String,
		ts                 DateTime64(3, 'UTC'),
		metrics            Map(String, Float64),
		market_trends      Array(String),
		competitive_forces String CODEC(ZSTD(1)),
		strategic_position String CODEC(ZSTD(1)),
		sentiment          Nullable(Float64)
	) ENGINE = MergeTree
	ORDER BY (monitor_id, ts)`,
	`CREATE TABLE IF NOT EXISTS aggregations (
		monitor_id   String,
		period       LowCardinality(String),
		start_time   DateTime('UTC'),
		end_time     DateTime('UTC'),
		data         String,
		generated_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(generated_at)
	ORDER BY (monitor_id, period, start_time)`,
}
