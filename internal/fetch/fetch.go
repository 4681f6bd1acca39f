// Package fetch wraps outbound API requests. A failed request never
// surfaces as an error to callers; it surfaces as an absent result so
// that extraction loops can skip the unit and keep going.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mgiordano/apielt/internal/logging"
)

// Client issues bounded HTTP GET requests against the source APIs
type Client struct {
	http *http.Client
}

// NewClient creates a Client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Get fetches the given URL and returns the response body. On any
// failure, transport error or non-2xx status, it logs a warning and
// returns ok=false. Context cancellation is the one exception and is
// returned as an error so callers can stop the run.
func (c *Client) Get(ctx context.Context, rawURL string) (body []byte, ok bool, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if reqErr != nil {
		logging.Warn("building request for %s: %v", redact(rawURL), reqErr)
		return nil, false, nil
	}

	resp, doErr := c.http.Do(req)
	if doErr != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		logging.Warn("request failed for %s: %v", redact(rawURL), doErr)
		return nil, false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		logging.Warn("request for %s returned status %d", redact(rawURL), resp.StatusCode)
		return nil, false, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		logging.Warn("reading response from %s: %v", redact(rawURL), readErr)
		return nil, false, nil
	}

	return body, true, nil
}

// redact strips query parameters before a URL reaches the logs, since
// the source APIs carry their credentials in the query string.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	u.RawQuery = ""
	return u.String()
}

// CatalogURL builds a paginated catalog list request.
func CatalogURL(baseURL string, offset int64, limit int) string {
	return fmt.Sprintf("%s?offset=%d&limit=%d", baseURL, offset, limit)
}

// TrafficURL builds a flow-segment request for one point.
func TrafficURL(baseURL, apiKey string, zoom int, point string) string {
	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("point", point)
	return fmt.Sprintf("%s/%d/xml?%s", baseURL, zoom, q.Encode())
}

// WeatherURL builds a current-conditions request for one point.
func WeatherURL(baseURL, apiKey, units string, lat, lon float64) string {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%g", lat))
	q.Set("lon", fmt.Sprintf("%g", lon))
	q.Set("appid", apiKey)
	q.Set("units", units)
	return fmt.Sprintf("%s?%s", baseURL, q.Encode())
}
