package warehouse

import "fmt"

func trafficStagingDDL(schema string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q.stg_traffic_data (
		location              TEXT NOT NULL,
		frc                   TEXT,
		current_speed         DOUBLE PRECISION,
		free_flow_speed       DOUBLE PRECISION,
		current_travel_time   DOUBLE PRECISION,
		free_flow_travel_time DOUBLE PRECISION,
		confidence            DOUBLE PRECISION,
		road_closure          BOOLEAN NOT NULL DEFAULT FALSE,
		coordinate_count      INTEGER NOT NULL DEFAULT 0,
		speed_diff            DOUBLE PRECISION,
		est_travel_time_min   DOUBLE PRECISION,
		observed_at           TIMESTAMPTZ NOT NULL,
		loaded_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, schema)
}

func weatherStagingDDL(schema string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q.stg_weather_data (
		location    TEXT NOT NULL,
		temp        DOUBLE PRECISION,
		feels_like  DOUBLE PRECISION,
		pressure    BIGINT,
		humidity    BIGINT,
		wind_speed  DOUBLE PRECISION,
		clouds      BIGINT,
		condition   TEXT,
		description TEXT,
		observed_at TIMESTAMPTZ NOT NULL,
		loaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, schema)
}

func finalTableDDL(schema string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %q.city_conditions (
		location            TEXT NOT NULL,
		source              TEXT NOT NULL,
		observed_at         TIMESTAMPTZ NOT NULL,
		current_speed       DOUBLE PRECISION,
		free_flow_speed     DOUBLE PRECISION,
		speed_diff          DOUBLE PRECISION,
		est_travel_time_min DOUBLE PRECISION,
		road_closure        BOOLEAN,
		temp                DOUBLE PRECISION,
		humidity            BIGINT,
		wind_speed          DOUBLE PRECISION,
		condition           TEXT,
		merged_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, schema)
}

// mergeSQL builds the UNION ALL append of both staging tables into
// city_conditions. Columns a source does not have are filled with
// NULL, and the source column tells the rows apart.
func mergeSQL(schema string) string {
	return fmt.Sprintf(`
	INSERT INTO %q.city_conditions (
		location, source, observed_at,
		current_speed, free_flow_speed, speed_diff, est_travel_time_min, road_closure,
		temp, humidity, wind_speed, condition
	)
	SELECT
		location, 'traffic', observed_at,
		current_speed, free_flow_speed, speed_diff, est_travel_time_min, road_closure,
		NULL, NULL, NULL, NULL
	FROM %q.stg_traffic_data
	UNION ALL
	SELECT
		location, 'weather', observed_at,
		NULL, NULL, NULL, NULL, NULL,
		temp, humidity, wind_speed, condition
	FROM %q.stg_weather_data`, schema, schema, schema)
}

func truncateStagingSQL(schema string) string {
	return fmt.Sprintf(`TRUNCATE TABLE %q.stg_traffic_data, %q.stg_weather_data`, schema, schema)
}
