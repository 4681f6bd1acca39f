package warehouse

import (
	"strings"
	"testing"
)

func TestMergeSQL_UnionAllShape(t *testing.T) {
	sql := mergeSQL("analytics")

	if !strings.Contains(sql, `INSERT INTO "analytics".city_conditions`) {
		t.Error("merge should insert into city_conditions")
	}
	if strings.Count(sql, "UNION ALL") != 1 {
		t.Errorf("merge should union exactly two selects, got %d UNION ALL", strings.Count(sql, "UNION ALL"))
	}
	if !strings.Contains(sql, `FROM "analytics".stg_traffic_data`) ||
		!strings.Contains(sql, `FROM "analytics".stg_weather_data`) {
		t.Error("merge should read both staging tables")
	}
	if !strings.Contains(sql, "'traffic'") || !strings.Contains(sql, "'weather'") {
		t.Error("merge should tag rows with a source discriminator")
	}

	// both arms must produce the same column count as the insert list
	insertCols := strings.Count(between(sql, "city_conditions (", ")"), ",") + 1
	for _, arm := range strings.Split(sql, "UNION ALL") {
		selectList := between(arm, "SELECT", "FROM")
		if got := strings.Count(selectList, ",") + 1; got != insertCols {
			t.Errorf("select arm has %d columns, insert list has %d", got, insertCols)
		}
	}
}

func TestMergeSQL_NullFillsForeignColumns(t *testing.T) {
	sql := mergeSQL("public")
	arms := strings.Split(sql, "UNION ALL")
	if len(arms) != 2 {
		t.Fatalf("expected 2 arms, got %d", len(arms))
	}

	// traffic arm has no weather measurements, weather arm no traffic ones
	trafficArm := between(arms[0], "SELECT", "FROM")
	weatherArm := between(arms[1], "SELECT", "FROM")
	if strings.Count(trafficArm, "NULL") != 4 {
		t.Errorf("traffic arm NULL count = %d, want 4", strings.Count(trafficArm, "NULL"))
	}
	if strings.Count(weatherArm, "NULL") != 5 {
		t.Errorf("weather arm NULL count = %d, want 5", strings.Count(weatherArm, "NULL"))
	}
}

func TestDDL_CreateIfNotExists(t *testing.T) {
	for name, ddl := range map[string]string{
		"traffic": trafficStagingDDL("public"),
		"weather": weatherStagingDDL("public"),
		"final":   finalTableDDL("public"),
	} {
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS") {
			t.Errorf("%s DDL is not idempotent: %s", name, ddl)
		}
	}
}

func TestTruncateStagingSQL(t *testing.T) {
	sql := truncateStagingSQL("public")
	if !strings.Contains(sql, "stg_traffic_data") || !strings.Contains(sql, "stg_weather_data") {
		t.Errorf("truncate should cover both staging tables: %s", sql)
	}
	if strings.Contains(sql, "city_conditions") {
		t.Error("truncate must never touch the final table")
	}
}

func TestStagingColumnsMatchDDL(t *testing.T) {
	trafficDDL := trafficStagingDDL("public")
	for _, col := range trafficStagingCols {
		if !strings.Contains(trafficDDL, col) {
			t.Errorf("traffic COPY column %q missing from DDL", col)
		}
	}
	weatherDDL := weatherStagingDDL("public")
	for _, col := range weatherStagingCols {
		if !strings.Contains(weatherDDL, col) {
			t.Errorf("weather COPY column %q missing from DDL", col)
		}
	}
}

// between returns the substring of s between the first occurrence of
// start and the next occurrence of end after it.
func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	j := strings.Index(s, end)
	if j < 0 {
		return s
	}
	return s[:j]
}
