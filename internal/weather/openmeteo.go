package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/hieutrtr/ragforge/config"
)

// Report is the normalized answer of a weather lookup.
type Report struct {
	Location    string  `json:"location"`
	Country     string  `json:"country,omitempty"`
	Temperature float64 `json:"temperature_c"`
	WindSpeed   float64 `json:"wind_speed_kmh"`
	Conditions  string  `json:"conditions"`
}

// Summary renders the report as one sentence for answer synthesis.
func (r Report) Summary() string {
	loc := r.Location
	if r.Country != "" {
		loc = fmt.Sprintf("%s, %s", r.Location, r.Country)
	}
	return fmt.Sprintf("Current weather in %s: %s, %.1f°C, wind %.1f km/h",
		loc, r.Conditions, r.Temperature, r.WindSpeed)
}

// Client resolves a location name and fetches current conditions from
// Open-Meteo. Lookups with an empty location fall back to the configured
// default location.
type Client struct {
	cfg        config.WeatherConfig
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a weather client.
func NewClient(cfg config.WeatherConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[WEATHER] ", log.LstdFlags),
	}
}

// Current returns current conditions for the named location. An empty
// location uses the configured default.
func (c *Client) Current(ctx context.Context, location string) (Report, error) {
	if location == "" {
		location = c.cfg.DefaultLocation
		c.logger.Printf("no location given, defaulting to %s", location)
	}
	if location == "" {
		return Report{}, fmt.Errorf("no location given and no default configured")
	}

	place, err := c.geocode(ctx, location)
	if err != nil {
		return Report{}, fmt.Errorf("resolving location %q: %w", location, err)
	}

	report, err := c.forecast(ctx, place)
	if err != nil {
		return Report{}, fmt.Errorf("fetching forecast for %q: %w", location, err)
	}
	return report, nil
}

type place struct {
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
}

func (c *Client) geocode(ctx context.Context, name string) (place, error) {
	u := fmt.Sprintf("%s?name=%s&count=1&language=en&format=json",
		c.cfg.GeocodeEndpoint, url.QueryEscape(name))

	var parsed struct {
		Results []struct {
			Name      string  `json:"name"`
			Country   string  `json:"country"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, u, &parsed); err != nil {
		return place{}, err
	}
	if len(parsed.Results) == 0 {
		return place{}, fmt.Errorf("location not found")
	}
	r := parsed.Results[0]
	return place{Name: r.Name, Country: r.Country, Latitude: r.Latitude, Longitude: r.Longitude}, nil
}

func (c *Client) forecast(ctx context.Context, p place) (Report, error) {
	u := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current_weather=true",
		c.cfg.Endpoint, p.Latitude, p.Longitude)

	var parsed struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := c.getJSON(ctx, u, &parsed); err != nil {
		return Report{}, err
	}

	return Report{
		Location:    p.Name,
		Country:     p.Country,
		Temperature: parsed.CurrentWeather.Temperature,
		WindSpeed:   parsed.CurrentWeather.WindSpeed,
		Conditions:  describeCode(parsed.CurrentWeather.WeatherCode),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned %s: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// describeCode maps WMO weather interpretation codes to prose.
func describeCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}
