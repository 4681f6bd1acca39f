package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Validator checks post-merge row counts over a connection that is
// deliberately independent of the load pool, so a validation result
// cannot be an artifact of the loading session.
type Validator struct {
	db     *sql.DB
	schema string
}

// NewValidator opens a standalone validation connection.
func NewValidator(dsn, schema string) (*Validator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening validation connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging warehouse for validation: %w", err)
	}
	return &Validator{db: db, schema: schema}, nil
}

// Close closes the validation connection
func (v *Validator) Close() error {
	return v.db.Close()
}

// FinalCounts returns city_conditions row counts per source.
func (v *Validator) FinalCounts(ctx context.Context) (traffic, weather int64, err error) {
	err = v.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN source = 'traffic' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN source = 'weather' THEN 1 ELSE 0 END), 0)
		FROM %q.city_conditions`, v.schema)).Scan(&traffic, &weather)
	if err != nil {
		return 0, 0, fmt.Errorf("counting city_conditions: %w", err)
	}
	return traffic, weather, nil
}

// VerifyMerge confirms the merged counts cover the rows that were
// just loaded. Counts can exceed the loaded amounts because the final
// table is append only across runs.
func (v *Validator) VerifyMerge(ctx context.Context, loadedTraffic, loadedWeather int64) error {
	traffic, weather, err := v.FinalCounts(ctx)
	if err != nil {
		return err
	}
	if traffic < loadedTraffic || weather < loadedWeather {
		return fmt.Errorf("validation failed: city_conditions has %d traffic / %d weather rows, expected at least %d / %d",
			traffic, weather, loadedTraffic, loadedWeather)
	}
	return nil
}
