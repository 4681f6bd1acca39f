package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count": 1}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	body, ok, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(body) != `{"count": 1}` {
		t.Errorf("body = %q", body)
	}
}

func TestGet_NonSuccessStatus(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusForbidden, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := NewClient(5 * time.Second)
		_, ok, err := c.Get(context.Background(), srv.URL)
		srv.Close()

		if err != nil {
			t.Fatalf("status %d: Get() error = %v, want nil", status, err)
		}
		if ok {
			t.Errorf("status %d: Get() ok = true, want false", status)
		}
	}
}

func TestGet_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(time.Second)
	_, ok, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for refused connection")
	}
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := NewClient(10 * time.Second)
	_, ok, err := c.Get(ctx, srv.URL)
	if err == nil {
		t.Fatal("Get() error = nil, want context error")
	}
	if ok {
		t.Error("Get() ok = true, want false")
	}
}

func TestCatalogURL(t *testing.T) {
	got := CatalogURL("https://pokeapi.co/api/v2/pokemon", 100, 50)
	want := "https://pokeapi.co/api/v2/pokemon?offset=100&limit=50"
	if got != want {
		t.Errorf("CatalogURL() = %q, want %q", got, want)
	}
}

func TestTrafficURL(t *testing.T) {
	got := TrafficURL("https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute", "k1", 10, "52.52,13.405")
	if !strings.Contains(got, "/10/xml?") {
		t.Errorf("TrafficURL() = %q, want zoom and xml segment in path", got)
	}
	if !strings.Contains(got, "key=k1") || !strings.Contains(got, "point=52.52%2C13.405") {
		t.Errorf("TrafficURL() = %q, missing query params", got)
	}
}

func TestWeatherURL(t *testing.T) {
	got := WeatherURL("https://api.openweathermap.org/data/2.5/weather", "k2", "metric", 52.52, 13.405)
	for _, part := range []string{"lat=52.52", "lon=13.405", "appid=k2", "units=metric"} {
		if !strings.Contains(got, part) {
			t.Errorf("WeatherURL() = %q, missing %q", got, part)
		}
	}
}

func TestRedact(t *testing.T) {
	got := redact("https://api.tomtom.com/x/10/xml?key=secret&point=1,2")
	if strings.Contains(got, "secret") {
		t.Errorf("redact() leaked credentials: %q", got)
	}
}
