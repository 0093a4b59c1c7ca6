// Package weather implements the "weather" command, fetching a current
// conditions snapshot from the Open-Meteo forecast API for the sender's
// last known position, or a configured default location.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

const forecastBaseURL = "https://api.open-meteo.com/v1/forecast"

type Module struct {
	module.EventlessModule
	latitude  float64
	longitude float64
	units     string
	client    *http.Client
	baseURL   string
	logger    *log.Logger
}

func New(latitude, longitude float64, units string) *Module {
	return &Module{
		latitude: latitude, longitude: longitude, units: units,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: forecastBaseURL,
		logger:  log.With("component", "weather"),
	}
}

func (m *Module) temperatureUnit() string {
	if m.units == "imperial" {
		return "fahrenheit"
	}
	return "celsius"
}

func (m *Module) tempSymbol() string {
	if m.units == "imperial" {
		return "°F"
	}
	return "°C"
}

func (m *Module) windUnit() string {
	if m.units == "imperial" {
		return "mph"
	}
	return "kmh"
}

func (m *Module) windSymbol() string {
	if m.units == "imperial" {
		return "mph"
	}
	return "km/h"
}

func wmoCodeToDescription(code int64) string {
	switch {
	case code == 0:
		return "Clear sky"
	case code == 1:
		return "Mainly clear"
	case code == 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Foggy"
	case code == 51 || code == 53 || code == 55:
		return "Drizzle"
	case code == 56 || code == 57:
		return "Freezing drizzle"
	case code == 61 || code == 63 || code == 65:
		return "Rain"
	case code == 66 || code == 67:
		return "Freezing rain"
	case code == 71 || code == 73 || code == 75:
		return "Snowfall"
	case code == 77:
		return "Snow grains"
	case code >= 80 && code <= 82:
		return "Rain showers"
	case code == 85 || code == 86:
		return "Snow showers"
	case code == 95:
		return "Thunderstorm"
	case code == 96 || code == 99:
		return "Thunderstorm w/ hail"
	default:
		return "Unknown"
	}
}

func (*Module) Name() string                { return "weather" }
func (*Module) Description() string         { return "Weather forecast" }
func (*Module) Commands() []string          { return []string{"weather"} }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeBoth }

type forecastResponse struct {
	Current struct {
		Temperature      float64 `json:"temperature_2m"`
		RelativeHumidity float64 `json:"relative_humidity_2m"`
		WeatherCode      int64   `json:"weather_code"`
		WindSpeed        float64 `json:"wind_speed_10m"`
	} `json:"current"`
}

func (m *Module) HandleCommand(ctx context.Context, _, _ string, msgCtx meshmsg.MessageContext, st *store.Store) ([]meshmsg.Response, error) {
	lat, lon, locationNote := m.latitude, m.longitude, ""
	if node, err := st.GetNode(ctx, msgCtx.SenderID); err == nil && node != nil && node.Latitude != nil && node.Longitude != nil {
		lat, lon, locationNote = *node.Latitude, *node.Longitude, " (your location)"
	}

	reqURL := fmt.Sprintf(
		"%s?latitude=%s&longitude=%s&current=temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m&temperature_unit=%s&wind_speed_unit=%s",
		m.baseURL,
		url.QueryEscape(strconv.FormatFloat(lat, 'f', -1, 64)),
		url.QueryEscape(strconv.FormatFloat(lon, 'f', -1, 64)),
		m.temperatureUnit(), m.windUnit())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("weather api request failed", "err", err)
		return []meshmsg.Response{{Text: "Weather unavailable (request failed)", Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("weather api returned non-2xx", "status", resp.StatusCode)
		text := fmt.Sprintf("Weather unavailable (HTTP %d)", resp.StatusCode)
		return []meshmsg.Response{{Text: text, Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
	}

	var parsed forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		m.logger.Error("weather api response decode failed", "err", err)
		return []meshmsg.Response{{Text: "Weather unavailable (bad API response)", Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
	}

	conditions := wmoCodeToDescription(parsed.Current.WeatherCode)
	text := fmt.Sprintf("Weather%s: %.0f%s %s\nHumidity: %.0f%% Wind: %.0f%s",
		locationNote, parsed.Current.Temperature, m.tempSymbol(), conditions,
		parsed.Current.RelativeHumidity, parsed.Current.WindSpeed, m.windSymbol())

	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
}
