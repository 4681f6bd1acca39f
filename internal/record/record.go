// Package record defines the row shapes staged by each pipeline and the
// parsers that turn raw API payloads into them.
package record

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// CatalogRow is one entry from a paginated catalog listing page
type CatalogRow struct {
	Name string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY" json:"name"`
	URL  string `parquet:"name=url, type=BYTE_ARRAY, convertedtype=UTF8" json:"url"`
}

// TrafficRow is one flow-segment observation for a single point. The
// numeric fields are pointers because the upstream XML may omit a tag
// or carry a non-numeric value; either way the field stages as null.
type TrafficRow struct {
	Location           string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY" json:"location"`
	FRC                *string  `parquet:"name=frc, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL" json:"frc"`
	CurrentSpeed       *float64 `parquet:"name=current_speed, type=DOUBLE, repetitiontype=OPTIONAL" json:"current_speed"`
	FreeFlowSpeed      *float64 `parquet:"name=free_flow_speed, type=DOUBLE, repetitiontype=OPTIONAL" json:"free_flow_speed"`
	CurrentTravelTime  *float64 `parquet:"name=current_travel_time, type=DOUBLE, repetitiontype=OPTIONAL" json:"current_travel_time"`
	FreeFlowTravelTime *float64 `parquet:"name=free_flow_travel_time, type=DOUBLE, repetitiontype=OPTIONAL" json:"free_flow_travel_time"`
	Confidence         *float64 `parquet:"name=confidence, type=DOUBLE, repetitiontype=OPTIONAL" json:"confidence"`
	RoadClosure        bool     `parquet:"name=road_closure, type=BOOLEAN" json:"road_closure"`
	CoordinateCount    int32    `parquet:"name=coordinate_count, type=INT32" json:"coordinate_count"`
	Coordinates        string   `parquet:"name=coordinates, type=BYTE_ARRAY, convertedtype=UTF8" json:"coordinates"`
	ObservedAt         string   `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8" json:"observed_at"`
}

// SpeedDiff returns the gap between free-flow and current speed, or nil
// when either side is missing.
func (r *TrafficRow) SpeedDiff() *float64 {
	if r.CurrentSpeed == nil || r.FreeFlowSpeed == nil {
		return nil
	}
	d := *r.FreeFlowSpeed - *r.CurrentSpeed
	return &d
}

// EstimatedTravelTimeMin estimates minutes to cover routeKM at the
// observed current speed. Nil when the speed is missing or zero.
func (r *TrafficRow) EstimatedTravelTimeMin(routeKM float64) *float64 {
	if r.CurrentSpeed == nil || *r.CurrentSpeed <= 0 {
		return nil
	}
	m := routeKM / *r.CurrentSpeed * 60
	return &m
}

// WeatherRow is one current-conditions observation for a single point
type WeatherRow struct {
	Location    string   `parquet:"name=location, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY" json:"location"`
	Temp        *float64 `parquet:"name=temp, type=DOUBLE, repetitiontype=OPTIONAL" json:"temp"`
	FeelsLike   *float64 `parquet:"name=feels_like, type=DOUBLE, repetitiontype=OPTIONAL" json:"feels_like"`
	Pressure    *int64   `parquet:"name=pressure, type=INT64, repetitiontype=OPTIONAL" json:"pressure"`
	Humidity    *int64   `parquet:"name=humidity, type=INT64, repetitiontype=OPTIONAL" json:"humidity"`
	WindSpeed   *float64 `parquet:"name=wind_speed, type=DOUBLE, repetitiontype=OPTIONAL" json:"wind_speed"`
	Clouds      *int64   `parquet:"name=clouds, type=INT64, repetitiontype=OPTIONAL" json:"clouds"`
	Condition   *string  `parquet:"name=condition, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL" json:"condition"`
	Description *string  `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL" json:"description"`
	ObservedAt  string   `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8" json:"observed_at"`
}

type catalogPage struct {
	Count   int64 `json:"count"`
	Results []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"results"`
}

// ParseCatalog decodes one catalog listing page. When dedupeField is
// "name" or "url", entries repeating an earlier value of that field on
// the same page are dropped, keeping the first occurrence in page
// order; any other value disables de-dup. rawCount is the page length
// before de-dup, which is what pagination arithmetic must advance by.
func ParseCatalog(data []byte, dedupeField string) (rows []CatalogRow, rawCount int, err error) {
	var page catalogPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, 0, fmt.Errorf("parsing catalog page: %w", err)
	}

	rows = make([]CatalogRow, 0, len(page.Results))
	seen := make(map[string]bool, len(page.Results))
	for _, r := range page.Results {
		var key string
		switch dedupeField {
		case "name":
			key = r.Name
		case "url":
			key = r.URL
		}
		if key != "" {
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		rows = append(rows, CatalogRow{Name: r.Name, URL: r.URL})
	}
	return rows, len(page.Results), nil
}

type flowSegment struct {
	XMLName            xml.Name `xml:"flowSegmentData"`
	FRC                string   `xml:"frc"`
	CurrentSpeed       string   `xml:"currentSpeed"`
	FreeFlowSpeed      string   `xml:"freeFlowSpeed"`
	CurrentTravelTime  string   `xml:"currentTravelTime"`
	FreeFlowTravelTime string   `xml:"freeFlowTravelTime"`
	Confidence         string   `xml:"confidence"`
	RoadClosure        string   `xml:"roadClosure"`
	Coordinates        []struct {
		Latitude  float64 `xml:"latitude"`
		Longitude float64 `xml:"longitude"`
	} `xml:"coordinates>coordinate"`
}

// ParseTraffic decodes one flow-segment XML document into a single row.
// A document that does not parse yields an empty row set, not an error;
// a point with garbage upstream data is staged as nothing rather than
// stopping the location loop.
func ParseTraffic(data []byte, location, observedAt string) []TrafficRow {
	var seg flowSegment
	if err := xml.Unmarshal(data, &seg); err != nil {
		return nil
	}

	coords := make([]string, 0, len(seg.Coordinates))
	for _, c := range seg.Coordinates {
		coords = append(coords, fmt.Sprintf("%g,%g", c.Latitude, c.Longitude))
	}

	row := TrafficRow{
		Location:           location,
		FRC:                coerceString(seg.FRC),
		CurrentSpeed:       coerceFloat(seg.CurrentSpeed),
		FreeFlowSpeed:      coerceFloat(seg.FreeFlowSpeed),
		CurrentTravelTime:  coerceFloat(seg.CurrentTravelTime),
		FreeFlowTravelTime: coerceFloat(seg.FreeFlowTravelTime),
		Confidence:         coerceFloat(seg.Confidence),
		RoadClosure:        strings.EqualFold(strings.TrimSpace(seg.RoadClosure), "true"),
		CoordinateCount:    int32(len(seg.Coordinates)),
		Coordinates:        strings.Join(coords, ";"),
		ObservedAt:         observedAt,
	}
	return []TrafficRow{row}
}

type weatherPayload struct {
	Main struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		Pressure  *int64   `json:"pressure"`
		Humidity  *int64   `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All *int64 `json:"all"`
	} `json:"clouds"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

// ParseWeather decodes one current-conditions JSON document into a
// single row. Like ParseTraffic, an undecodable document yields an
// empty row set.
func ParseWeather(data []byte, location, observedAt string) []WeatherRow {
	var p weatherPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}

	row := WeatherRow{
		Location:   location,
		Temp:       p.Main.Temp,
		FeelsLike:  p.Main.FeelsLike,
		Pressure:   p.Main.Pressure,
		Humidity:   p.Main.Humidity,
		WindSpeed:  p.Wind.Speed,
		Clouds:     p.Clouds.All,
		ObservedAt: observedAt,
	}
	if len(p.Weather) > 0 {
		row.Condition = coerceString(p.Weather[0].Main)
		row.Description = coerceString(p.Weather[0].Description)
	}
	return []WeatherRow{row}
}

// coerceFloat parses a numeric string, mapping a missing or invalid
// value to nil rather than failing the row.
func coerceFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func coerceString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
