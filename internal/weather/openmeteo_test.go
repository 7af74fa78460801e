package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hieutrtr/ragforge/config"
)

func newTestClient(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/geocode", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "Nowhere" {
			w.Write([]byte(`{"results":[]}`))
			return
		}
		w.Write([]byte(`{"results":[{"name":"` + name + `","country":"Vietnam","latitude":21.03,"longitude":105.85}]}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current_weather":{"temperature":31.5,"windspeed":8.2,"weathercode":2}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(config.WeatherConfig{
		Endpoint:        srv.URL + "/forecast",
		GeocodeEndpoint: srv.URL + "/geocode",
		DefaultLocation: "Hanoi",
		Timeout:         5 * time.Second,
	})
	return c, srv
}

func TestCurrent(t *testing.T) {
	c, _ := newTestClient(t)

	report, err := c.Current(context.Background(), "Hanoi")
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if report.Location != "Hanoi" {
		t.Fatalf("location = %q, want Hanoi", report.Location)
	}
	if report.Temperature != 31.5 {
		t.Fatalf("temperature = %v, want 31.5", report.Temperature)
	}
	if report.Conditions != "partly cloudy" {
		t.Fatalf("conditions = %q, want partly cloudy", report.Conditions)
	}
	if !strings.Contains(report.Summary(), "Hanoi, Vietnam") {
		t.Fatalf("summary missing location: %q", report.Summary())
	}
}

func TestCurrentDefaultsLocation(t *testing.T) {
	c, _ := newTestClient(t)

	report, err := c.Current(context.Background(), "")
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if report.Location != "Hanoi" {
		t.Fatalf("location = %q, want default Hanoi", report.Location)
	}
}

func TestCurrentUnknownLocation(t *testing.T) {
	c, _ := newTestClient(t)

	if _, err := c.Current(context.Background(), "Nowhere"); err == nil {
		t.Fatal("expected error for unknown location")
	}
}

func TestDescribeCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, "clear sky"},
		{3, "overcast"},
		{63, "rain"},
		{95, "thunderstorm"},
		{40, "unknown conditions"},
	}
	for _, tc := range cases {
		if got := describeCode(tc.code); got != tc.want {
			t.Fatalf("describeCode(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
