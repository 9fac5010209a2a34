// Package weather fetches best-effort current conditions for a city.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable is returned when no weather data could be obtained.
var ErrUnavailable = errors.New("weather: unavailable")

// Conditions are the current weather facts the engine reasons about.
type Conditions struct {
	City        string  `json:"city"`
	TempC       float64 `json:"temp_c"`
	Condition   string  `json:"condition"` // Clear, Clouds, Rain, Drizzle, Thunderstorm, Snow, ...
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
}

// IsCold reports temperatures below 15°C.
func (c *Conditions) IsCold() bool { return c != nil && c.TempC < 15 }

// IsHot reports temperatures above 30°C.
func (c *Conditions) IsHot() bool { return c != nil && c.TempC > 30 }

// IsRainy reports rain-like conditions.
func (c *Conditions) IsRainy() bool {
	if c == nil {
		return false
	}
	cond := strings.ToLower(c.Condition + " " + c.Description)
	return strings.Contains(cond, "rain") || strings.Contains(cond, "drizzle") || strings.Contains(cond, "thunderstorm")
}

// Provider looks up weather by city name.
type Provider interface {
	ByCity(ctx context.Context, city string) (*Conditions, error)
}

// OpenWeatherClient calls the OpenWeather current-weather endpoint.
type OpenWeatherClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewOpenWeatherClient(baseURL, apiKey string, httpClient *http.Client) *OpenWeatherClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 3 * time.Second}
	}
	return &OpenWeatherClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
}

func (c *OpenWeatherClient) ByCity(ctx context.Context, city string) (*Conditions, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, fmt.Errorf("%w: city is required", ErrUnavailable)
	}
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather: unexpected status %d", resp.StatusCode)
	}

	var payload openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("weather: decode response: %w", err)
	}

	out := &Conditions{
		City:     payload.Name,
		TempC:    payload.Main.Temp,
		Humidity: payload.Main.Humidity,
	}
	if out.City == "" {
		out.City = city
	}
	if len(payload.Weather) > 0 {
		out.Condition = payload.Weather[0].Main
		out.Description = payload.Weather[0].Description
	}
	return out, nil
}
