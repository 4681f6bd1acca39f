// Package warehouse loads staged traffic and weather snapshots into
// PostgreSQL staging tables and merges them into the unified
// city_conditions table.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mgiordano/apielt/internal/config"
	"github.com/mgiordano/apielt/internal/logging"
	"github.com/mgiordano/apielt/internal/record"
	"github.com/mgiordano/apielt/internal/stage"
)

// Pool manages a pool of PostgreSQL connections to the warehouse
type Pool struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPool creates a new warehouse connection pool
func NewPool(cfg config.WarehouseConfig) (*Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging warehouse: %w", err)
	}

	return &Pool{pool: pool, schema: cfg.Schema}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Ping tests the connection to the warehouse
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// EnsureSchema creates the target schema if it doesn't exist
func (p *Pool) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, p.schema))
	if err != nil {
		return fmt.Errorf("creating schema %s: %w", p.schema, err)
	}
	return nil
}

// EnsureTables creates the staging and final tables if they don't
// exist.
func (p *Pool) EnsureTables(ctx context.Context) error {
	for _, ddl := range []string{
		trafficStagingDDL(p.schema),
		weatherStagingDDL(p.schema),
		finalTableDDL(p.schema),
	} {
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating warehouse tables: %w", err)
		}
	}
	return nil
}

var trafficStagingCols = []string{
	"location", "frc", "current_speed", "free_flow_speed",
	"current_travel_time", "free_flow_travel_time", "confidence",
	"road_closure", "coordinate_count", "speed_diff",
	"est_travel_time_min", "observed_at",
}

// LoadTrafficFile copies one staged traffic file into
// stg_traffic_data via the binary COPY protocol. The derived columns
// speed_diff and est_travel_time_min are computed here, at load time,
// from the configured route distance.
func (p *Pool) LoadTrafficFile(ctx context.Context, path string, routeKM float64) (int64, error) {
	staged, err := stage.ReadRows[record.TrafficRow](path)
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(staged))
	for i := range staged {
		r := &staged[i]
		rows = append(rows, []any{
			r.Location, r.FRC, r.CurrentSpeed, r.FreeFlowSpeed,
			r.CurrentTravelTime, r.FreeFlowTravelTime, r.Confidence,
			r.RoadClosure, r.CoordinateCount, r.SpeedDiff(),
			r.EstimatedTravelTimeMin(routeKM), observedAt(r.ObservedAt),
		})
	}

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{p.schema, "stg_traffic_data"},
		trafficStagingCols,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying traffic rows: %w", err)
	}
	logging.Debug("copied %d traffic rows from %s", n, path)
	return n, nil
}

var weatherStagingCols = []string{
	"location", "temp", "feels_like", "pressure", "humidity",
	"wind_speed", "clouds", "condition", "description", "observed_at",
}

// LoadWeatherFile copies one staged weather file into
// stg_weather_data.
func (p *Pool) LoadWeatherFile(ctx context.Context, path string) (int64, error) {
	staged, err := stage.ReadRows[record.WeatherRow](path)
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(staged))
	for i := range staged {
		r := &staged[i]
		rows = append(rows, []any{
			r.Location, r.Temp, r.FeelsLike, r.Pressure, r.Humidity,
			r.WindSpeed, r.Clouds, r.Condition, r.Description, observedAt(r.ObservedAt),
		})
	}

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{p.schema, "stg_weather_data"},
		weatherStagingCols,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying weather rows: %w", err)
	}
	logging.Debug("copied %d weather rows from %s", n, path)
	return n, nil
}

// MergeToFinal appends the staged rows of both sources into
// city_conditions in a single UNION ALL insert, then truncates the
// staging tables so the next run starts clean.
func (p *Pool) MergeToFinal(ctx context.Context) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning merge: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, mergeSQL(p.schema))
	if err != nil {
		return 0, fmt.Errorf("merging to city_conditions: %w", err)
	}

	if _, err := tx.Exec(ctx, truncateStagingSQL(p.schema)); err != nil {
		return 0, fmt.Errorf("truncating staging tables: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing merge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// observedAt converts the staged RFC3339 timestamp into a time.Time
// for the timestamptz column. Rows staged with an unparseable
// timestamp fall back to the load moment rather than failing the COPY.
func observedAt(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// StagingCounts returns the current staging table row counts.
func (p *Pool) StagingCounts(ctx context.Context) (traffic, weather int64, err error) {
	err = p.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT
			(SELECT COUNT(*) FROM %q.stg_traffic_data),
			(SELECT COUNT(*) FROM %q.stg_weather_data)`,
		p.schema, p.schema,
	)).Scan(&traffic, &weather)
	return traffic, weather, err
}
