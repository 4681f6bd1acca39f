// Package orchestrator coordinates a pipeline run end to end:
// extraction, staging, loading into the embedded destination and the
// warehouse, aggregation, archival, and notifications.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mgiordano/apielt/internal/archive"
	"github.com/mgiordano/apielt/internal/checkpoint"
	"github.com/mgiordano/apielt/internal/config"
	"github.com/mgiordano/apielt/internal/extract"
	"github.com/mgiordano/apielt/internal/fetch"
	"github.com/mgiordano/apielt/internal/load"
	"github.com/mgiordano/apielt/internal/logging"
	"github.com/mgiordano/apielt/internal/notify"
	"github.com/mgiordano/apielt/internal/progress"
	"github.com/mgiordano/apielt/internal/stage"
	"github.com/mgiordano/apielt/internal/warehouse"
)

// Result summarizes one pipeline run
type Result struct {
	RunID          string         `json:"run_id"`
	Status         string         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	DurationSec    float64        `json:"duration_sec"`
	Units          []extract.Unit `json:"units"`
	RowsStaged     int64          `json:"rows_staged"`
	SkippedUnits   int            `json:"skipped_units"`
	CatalogLoaded  int64          `json:"catalog_loaded"`
	TrafficLoaded  int64          `json:"traffic_loaded"`
	WeatherLoaded  int64          `json:"weather_loaded"`
	MergedRows     int64          `json:"merged_rows"`
	ArchivedFiles  int            `json:"archived_files"`
	Error          string         `json:"error,omitempty"`
}

// markLoadSkipped flags the staged unit at path as skipped with the
// given reason. Its rows stay counted as staged; they just never made
// it into a destination this run.
func (r *Result) markLoadSkipped(path, reason string) {
	for i := range r.Units {
		if r.Units[i].Path == path && !r.Units[i].Skipped {
			r.Units[i].Skipped = true
			r.Units[i].Reason = reason
			r.SkippedUnits++
			return
		}
	}
}

// Orchestrator coordinates a pipeline run
type Orchestrator struct {
	config   *config.Config
	state    checkpoint.StateBackend
	client   *fetch.Client
	stager   *stage.Stager
	notifier notify.Provider
	tracker  *progress.Tracker
}

// New creates an orchestrator. The state backend is injected so runs
// under a scheduler can use the YAML file backend instead of SQLite.
func New(cfg *config.Config, state checkpoint.StateBackend, silent bool) *Orchestrator {
	return &Orchestrator{
		config:   cfg,
		state:    state,
		client:   fetch.NewClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		stager:   stage.New(cfg.Staging.Folder, cfg.Staging.TimestampFormat),
		notifier: notify.New(&cfg.Slack),
		tracker:  progress.New(silent),
	}
}

// Run executes a full pipeline run: extract, load, aggregate, archive.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	return o.run(ctx, false)
}

// Extract runs only the extraction phase, leaving staged files on
// disk for a later load.
func (o *Orchestrator) Extract(ctx context.Context) (*Result, error) {
	return o.run(ctx, true)
}

func (o *Orchestrator) run(ctx context.Context, extractOnly bool) (*Result, error) {
	runID := uuid.New().String()[:8]
	startTime := time.Now()

	result := &Result{RunID: runID, StartedAt: startTime, Status: "running"}
	sources := o.enabledSources()
	logging.Info("starting run %s (sources: %v)", runID, sources)

	if err := o.state.CreateRun(runID, sources, o.config.Sanitized()); err != nil {
		return result, fmt.Errorf("creating run: %w", err)
	}
	if err := o.notifier.PipelineStarted(runID, sources); err != nil {
		logging.Warn("start notification: %v", err)
	}

	err := o.phases(ctx, result, extractOnly)

	result.DurationSec = time.Since(startTime).Seconds()
	if err != nil {
		result.Status = "failed"
		if errors.Is(err, context.Canceled) {
			result.Status = "cancelled"
		}
		result.Error = err.Error()
		o.finishRun(runID, result)
		if nerr := o.notifier.PipelineFailed(runID, err, time.Since(startTime)); nerr != nil {
			logging.Warn("failure notification: %v", nerr)
		}
		return result, err
	}

	result.Status = "success"
	o.finishRun(runID, result)

	totalLoaded := result.CatalogLoaded + result.TrafficLoaded + result.WeatherLoaded
	if nerr := o.notifier.PipelineCompleted(runID, startTime, time.Since(startTime), result.RowsStaged, totalLoaded, result.SkippedUnits); nerr != nil {
		logging.Warn("completion notification: %v", nerr)
	}

	logging.Info("run %s complete: %d rows staged, %d loaded, %d units skipped",
		runID, result.RowsStaged, totalLoaded, result.SkippedUnits)
	return result, nil
}

func (o *Orchestrator) phases(ctx context.Context, result *Result, extractOnly bool) error {
	catalogUnits, trafficUnits, weatherUnits, err := o.extractPhase(ctx, result)
	if err != nil {
		return err
	}
	if extractOnly {
		return nil
	}

	if err := o.loadPhase(ctx, result, catalogUnits, trafficUnits, weatherUnits); err != nil {
		return err
	}

	o.archivePhase(ctx, result)
	return nil
}

func (o *Orchestrator) extractPhase(ctx context.Context, result *Result) (catalogUnits, trafficUnits, weatherUnits []extract.Unit, err error) {
	o.tracker.StartPhase("Extracting")
	defer o.tracker.FinishPhase()

	if o.config.Catalog.Enabled {
		catalog := extract.NewCatalog(o.client, o.stager, o.state, o.config.Catalog, o.tracker)
		catalogUnits, err = catalog.Run(ctx)
		o.recordUnits(result, catalogUnits)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("extracting catalog: %w", err)
		}
	}

	points := extract.NewPoints(o.client, o.stager, o.config.Traffic, o.config.Weather, o.config.Locations, o.tracker)
	if o.config.Traffic.Enabled {
		trafficUnits, err = points.RunTraffic(ctx)
		o.recordUnits(result, trafficUnits)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("extracting traffic: %w", err)
		}
	}
	if o.config.Weather.Enabled {
		weatherUnits, err = points.RunWeather(ctx)
		o.recordUnits(result, weatherUnits)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("extracting weather: %w", err)
		}
	}

	return catalogUnits, trafficUnits, weatherUnits, nil
}

func (o *Orchestrator) recordUnits(result *Result, units []extract.Unit) {
	for _, u := range units {
		result.Units = append(result.Units, u)
		if u.Skipped {
			result.SkippedUnits++
			if err := o.notifier.SourceUnitFailed(result.RunID, u.Source, u.Identifier, u.Reason); err != nil {
				logging.Warn("skip notification: %v", err)
			}
			continue
		}
		result.RowsStaged += int64(u.Rows)
	}
}

func (o *Orchestrator) loadPhase(ctx context.Context, result *Result, catalogUnits, trafficUnits, weatherUnits []extract.Unit) error {
	o.tracker.StartPhase("Loading")
	defer o.tracker.FinishPhase()

	if o.config.Catalog.Enabled {
		if err := o.loadCatalog(result, catalogUnits); err != nil {
			return err
		}
	}

	if o.config.Warehouse.Enabled && (len(trafficUnits) > 0 || len(weatherUnits) > 0) {
		if err := o.loadWarehouse(ctx, result, trafficUnits, weatherUnits); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) loadCatalog(result *Result, units []extract.Unit) error {
	local, err := load.OpenLocal(o.config.Local.Path, o.config.Catalog.IDPattern)
	if err != nil {
		return err
	}
	defer local.Close()

	for _, u := range units {
		if u.Skipped || u.Path == "" {
			continue
		}
		n, err := local.LoadCatalogFile(u.Path)
		if err != nil {
			logging.Warn("loading %s: %v", u.Path, err)
			result.markLoadSkipped(u.Path, fmt.Sprintf("load failed: %v", err))
			continue
		}
		result.CatalogLoaded += int64(n)
	}

	if err := local.RefreshCatalogStats(); err != nil {
		return fmt.Errorf("aggregating catalog stats: %w", err)
	}

	logging.Info("catalog: loaded %d rows, stats refreshed", result.CatalogLoaded)
	return nil
}

func (o *Orchestrator) loadWarehouse(ctx context.Context, result *Result, trafficUnits, weatherUnits []extract.Unit) error {
	pool, err := warehouse.NewPool(o.config.Warehouse)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := pool.EnsureTables(ctx); err != nil {
		return err
	}

	for _, u := range trafficUnits {
		if u.Skipped || u.Path == "" {
			continue
		}
		n, err := pool.LoadTrafficFile(ctx, u.Path, o.config.Traffic.RouteDistanceKM)
		if err != nil {
			logging.Warn("loading %s: %v", u.Path, err)
			result.markLoadSkipped(u.Path, fmt.Sprintf("load failed: %v", err))
			continue
		}
		result.TrafficLoaded += n
	}
	for _, u := range weatherUnits {
		if u.Skipped || u.Path == "" {
			continue
		}
		n, err := pool.LoadWeatherFile(ctx, u.Path)
		if err != nil {
			logging.Warn("loading %s: %v", u.Path, err)
			result.markLoadSkipped(u.Path, fmt.Sprintf("load failed: %v", err))
			continue
		}
		result.WeatherLoaded += n
	}

	merged, err := pool.MergeToFinal(ctx)
	if err != nil {
		return err
	}
	result.MergedRows = merged
	logging.Info("warehouse: merged %d rows into city_conditions", merged)

	validator, err := warehouse.NewValidator(o.config.WarehouseDSN(), o.config.Warehouse.Schema)
	if err != nil {
		return err
	}
	defer validator.Close()

	return validator.VerifyMerge(ctx, result.TrafficLoaded, result.WeatherLoaded)
}

func (o *Orchestrator) archivePhase(ctx context.Context, result *Result) {
	if !o.config.Archive.Enabled {
		return
	}

	archiver, err := archive.New(o.config.Archive)
	if err != nil {
		logging.Warn("archive setup: %v", err)
		return
	}

	var paths []string
	for _, u := range result.Units {
		if !u.Skipped && u.Path != "" {
			paths = append(paths, u.Path)
		}
	}
	keys := archiver.UploadAll(ctx, paths)
	result.ArchivedFiles = len(keys)
	logging.Info("archived %d of %d staged files", len(keys), len(paths))
}

// finishRun persists the result summary and run status; failures here
// are logged, not returned, since the run outcome is already decided.
func (o *Orchestrator) finishRun(runID string, result *Result) {
	if data, err := json.Marshal(result); err == nil {
		if err := o.state.SetRunResult(runID, string(data)); err != nil {
			logging.Warn("saving run result: %v", err)
		}
	}
	if err := o.state.CompleteRun(runID, result.Status, result.Error); err != nil {
		logging.Warn("completing run: %v", err)
	}
}

func (o *Orchestrator) enabledSources() []string {
	var sources []string
	if o.config.Catalog.Enabled {
		sources = append(sources, "catalog")
	}
	if o.config.Traffic.Enabled {
		sources = append(sources, "traffic")
	}
	if o.config.Weather.Enabled {
		sources = append(sources, "weather")
	}
	return sources
}
