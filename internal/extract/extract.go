// Package extract runs the extraction loops: a paginated offset walk
// for the catalog source and a per-location pass for the traffic and
// weather sources. Each unit of work fails independently; a bad page
// or point is recorded as skipped and the loop keeps going.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/mgiordano/apielt/internal/checkpoint"
	"github.com/mgiordano/apielt/internal/config"
	"github.com/mgiordano/apielt/internal/fetch"
	"github.com/mgiordano/apielt/internal/logging"
	"github.com/mgiordano/apielt/internal/progress"
	"github.com/mgiordano/apielt/internal/record"
	"github.com/mgiordano/apielt/internal/stage"
)

// WatermarkCatalog is the watermark key for the catalog offset loop.
const WatermarkCatalog = "catalog"

// maxConsecutiveSkips bounds an offset loop running against a dead
// API; without it an unbounded loop with max_pages=0 would never
// reach a short page.
const maxConsecutiveSkips = 3

// Unit is the outcome of one unit of extraction work: a catalog page
// or a single location fetch.
type Unit struct {
	Source     string `json:"source"`
	Identifier string `json:"identifier"`
	Rows       int    `json:"rows"`
	Path       string `json:"path,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func skipped(source, identifier, reason string) Unit {
	logging.Warn("%s %s skipped: %s", source, identifier, reason)
	return Unit{Source: source, Identifier: identifier, Skipped: true, Reason: reason}
}

// Catalog walks the paginated catalog listing, staging one Parquet
// file per page and checkpointing the next unfetched offset.
type Catalog struct {
	client  *fetch.Client
	stager  *stage.Stager
	state   checkpoint.StateBackend
	cfg     config.CatalogConfig
	tracker *progress.Tracker
}

// NewCatalog creates a catalog extractor.
func NewCatalog(client *fetch.Client, stager *stage.Stager, state checkpoint.StateBackend, cfg config.CatalogConfig, tracker *progress.Tracker) *Catalog {
	return &Catalog{client: client, stager: stager, state: state, cfg: cfg, tracker: tracker}
}

// Run executes the offset loop until a short page, the page cap, or
// repeated fetch failures. The loop resumes from the stored watermark
// when one exists; otherwise it starts at the configured offset.
func (e *Catalog) Run(ctx context.Context) ([]Unit, error) {
	offset := e.cfg.StartOffset
	if position, found, err := e.state.GetWatermark(WatermarkCatalog); err != nil {
		return nil, err
	} else if found {
		offset = position
		logging.Info("catalog: resuming from offset %d", offset)
	} else {
		logging.Info("catalog: no watermark, starting at offset %d", offset)
	}

	var units []Unit
	pages := 0
	consecutiveSkips := 0

	for {
		if err := ctx.Err(); err != nil {
			return units, err
		}
		if e.cfg.MaxPages > 0 && pages >= e.cfg.MaxPages {
			logging.Info("catalog: page cap of %d reached", e.cfg.MaxPages)
			return units, nil
		}

		identifier := offsetIdentifier(offset)

		body, ok, err := e.client.Get(ctx, fetch.CatalogURL(e.cfg.BaseURL, offset, e.cfg.BatchSize))
		if err != nil {
			return units, err
		}
		if !ok {
			units = append(units, skipped(WatermarkCatalog, identifier, "fetch failed"))
			consecutiveSkips++
			if consecutiveSkips >= maxConsecutiveSkips {
				logging.Warn("catalog: stopping after %d consecutive failed pages", consecutiveSkips)
				return units, nil
			}
			// the page is gone for this run; move past it so the
			// next page gets its chance
			offset += int64(e.cfg.BatchSize)
			pages++
			if err := e.state.SetWatermark(WatermarkCatalog, offset); err != nil {
				return units, err
			}
			continue
		}

		rows, rawCount, parseErr := record.ParseCatalog(body, e.cfg.DedupeField)
		if parseErr != nil {
			units = append(units, skipped(WatermarkCatalog, identifier, parseErr.Error()))
			consecutiveSkips++
			if consecutiveSkips >= maxConsecutiveSkips {
				logging.Warn("catalog: stopping after %d consecutive bad pages", consecutiveSkips)
				return units, nil
			}
			offset += int64(e.cfg.BatchSize)
			pages++
			if err := e.state.SetWatermark(WatermarkCatalog, offset); err != nil {
				return units, err
			}
			continue
		}

		path, stageErr := stage.WriteRows(e.stager, "catalog", identifier, rows)
		if stageErr != nil {
			units = append(units, skipped(WatermarkCatalog, identifier, fmt.Sprintf("staging failed: %v", stageErr)))
			consecutiveSkips++
			if consecutiveSkips >= maxConsecutiveSkips {
				logging.Warn("catalog: stopping after %d consecutive staging failures", consecutiveSkips)
				return units, nil
			}
		} else {
			consecutiveSkips = 0
			units = append(units, Unit{
				Source:     WatermarkCatalog,
				Identifier: identifier,
				Rows:       len(rows),
				Path:       path,
			})
			if e.tracker != nil {
				e.tracker.Add(int64(len(rows)))
			}
		}

		offset += int64(rawCount)
		pages++
		if err := e.state.SetWatermark(WatermarkCatalog, offset); err != nil {
			return units, err
		}

		if rawCount < e.cfg.BatchSize {
			logging.Info("catalog: short page (%d < %d), extraction complete at offset %d", rawCount, e.cfg.BatchSize, offset)
			return units, nil
		}
	}
}

func offsetIdentifier(offset int64) string {
	return fmt.Sprintf("offset_%d", offset)
}

// Points runs the per-location sources. Locations are processed in
// config order and fail independently of each other.
type Points struct {
	client    *fetch.Client
	stager    *stage.Stager
	traffic   config.TrafficConfig
	weather   config.WeatherConfig
	locations []config.Location
	tracker   *progress.Tracker
	now       func() time.Time
}

// NewPoints creates a point-source extractor for the configured
// locations.
func NewPoints(client *fetch.Client, stager *stage.Stager, traffic config.TrafficConfig, weather config.WeatherConfig, locations []config.Location, tracker *progress.Tracker) *Points {
	return &Points{
		client: client, stager: stager,
		traffic: traffic, weather: weather,
		locations: locations, tracker: tracker,
		now: time.Now,
	}
}

// RunTraffic fetches one flow-segment snapshot per location.
func (e *Points) RunTraffic(ctx context.Context) ([]Unit, error) {
	var units []Unit
	for _, loc := range e.locations {
		if err := ctx.Err(); err != nil {
			return units, err
		}

		url := fetch.TrafficURL(e.traffic.BaseURL, e.traffic.APIKey, e.traffic.Zoom, loc.Point())
		body, ok, err := e.client.Get(ctx, url)
		if err != nil {
			return units, err
		}
		if !ok {
			units = append(units, skipped("traffic", loc.Name, "fetch failed"))
			continue
		}

		rows := record.ParseTraffic(body, loc.Name, e.now().UTC().Format(time.RFC3339))
		if len(rows) == 0 {
			units = append(units, skipped("traffic", loc.Name, "no parseable rows"))
			continue
		}

		path, stageErr := stage.WriteRows(e.stager, "traffic", loc.Name, rows)
		if stageErr != nil {
			units = append(units, skipped("traffic", loc.Name, fmt.Sprintf("staging failed: %v", stageErr)))
			continue
		}
		units = append(units, Unit{Source: "traffic", Identifier: loc.Name, Rows: len(rows), Path: path})
		if e.tracker != nil {
			e.tracker.Add(int64(len(rows)))
		}
	}
	return units, nil
}

// RunWeather fetches one current-conditions snapshot per location.
func (e *Points) RunWeather(ctx context.Context) ([]Unit, error) {
	var units []Unit
	for _, loc := range e.locations {
		if err := ctx.Err(); err != nil {
			return units, err
		}

		url := fetch.WeatherURL(e.weather.BaseURL, e.weather.APIKey, e.weather.Units, loc.Lat, loc.Lon)
		body, ok, err := e.client.Get(ctx, url)
		if err != nil {
			return units, err
		}
		if !ok {
			units = append(units, skipped("weather", loc.Name, "fetch failed"))
			continue
		}

		rows := record.ParseWeather(body, loc.Name, e.now().UTC().Format(time.RFC3339))
		if len(rows) == 0 {
			units = append(units, skipped("weather", loc.Name, "no parseable rows"))
			continue
		}

		path, stageErr := stage.WriteRows(e.stager, "weather", loc.Name, rows)
		if stageErr != nil {
			units = append(units, skipped("weather", loc.Name, fmt.Sprintf("staging failed: %v", stageErr)))
			continue
		}
		units = append(units, Unit{Source: "weather", Identifier: loc.Name, Rows: len(rows), Path: path})
		if e.tracker != nil {
			e.tracker.Add(int64(len(rows)))
		}
	}
	return units, nil
}
