package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Observation is one weather data point, current or forecast.
type Observation struct {
	Temperature    float64   `json:"temperature"`
	DetailedStatus string    `json:"detailed_status"`
	Humidity       float64   `json:"humidity"`
	Wind           float64   `json:"wind"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Client talks to an OpenWeatherMap-compatible API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type owmCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owmReading struct {
	Weather []owmCondition `json:"weather"`
	Main    struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	DT int64 `json:"dt"`
}

func (r owmReading) toObservation() Observation {
	o := Observation{
		Temperature: r.Main.Temp,
		Humidity:    r.Main.Humidity,
		Wind:        r.Wind.Speed,
		ObservedAt:  time.Unix(r.DT, 0),
	}
	if len(r.Weather) > 0 {
		o.DetailedStatus = r.Weather[0].Description
	}
	return o
}

// Current fetches the current weather for the location.
func (c *Client) Current(ctx context.Context, location string) (Observation, error) {
	var r owmReading
	if err := c.get(ctx, "/data/2.5/weather", location, &r); err != nil {
		return Observation{}, err
	}
	return r.toObservation(), nil
}

// Forecast fetches the 3-hourly forecast, truncated to the given span.
func (c *Client) Forecast(ctx context.Context, location string, span time.Duration) ([]Observation, error) {
	var raw struct {
		List []owmReading `json:"list"`
	}
	if err := c.get(ctx, "/data/2.5/forecast", location, &raw); err != nil {
		return nil, err
	}

	limit := time.Now().Add(span)
	out := make([]Observation, 0, len(raw.List))
	for _, r := range raw.List {
		o := r.toObservation()
		if o.ObservedAt.After(limit) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path, location string, out any) error {
	q := url.Values{}
	q.Set("q", location)
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
