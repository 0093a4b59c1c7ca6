package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testContext() meshmsg.MessageContext {
	return meshmsg.MessageContext{SenderID: 0x12345678, SenderName: "TestNode"}
}

func TestWmoCodes(t *testing.T) {
	require.Equal(t, "Clear sky", wmoCodeToDescription(0))
	require.Equal(t, "Mainly clear", wmoCodeToDescription(1))
	require.Equal(t, "Partly cloudy", wmoCodeToDescription(2))
	require.Equal(t, "Overcast", wmoCodeToDescription(3))
	require.Equal(t, "Foggy", wmoCodeToDescription(45))
	require.Equal(t, "Foggy", wmoCodeToDescription(48))
	require.Equal(t, "Rain", wmoCodeToDescription(61))
	require.Equal(t, "Rain showers", wmoCodeToDescription(80))
	require.Equal(t, "Rain showers", wmoCodeToDescription(81))
	require.Equal(t, "Rain showers", wmoCodeToDescription(82))
	require.Equal(t, "Thunderstorm", wmoCodeToDescription(95))
	require.Equal(t, "Thunderstorm w/ hail", wmoCodeToDescription(96))
	require.Equal(t, "Unknown", wmoCodeToDescription(999))
}

func TestMetricUnits(t *testing.T) {
	m := New(25.0, 121.0, "metric")
	require.Equal(t, "celsius", m.temperatureUnit())
	require.Equal(t, "°C", m.tempSymbol())
	require.Equal(t, "kmh", m.windUnit())
	require.Equal(t, "km/h", m.windSymbol())
}

func TestImperialUnits(t *testing.T) {
	m := New(25.0, 121.0, "imperial")
	require.Equal(t, "fahrenheit", m.temperatureUnit())
	require.Equal(t, "°F", m.tempSymbol())
	require.Equal(t, "mph", m.windUnit())
	require.Equal(t, "mph", m.windSymbol())
}

func TestModuleMetadata(t *testing.T) {
	m := New(25.0, 121.0, "metric")
	require.Equal(t, "weather", m.Name())
	require.Equal(t, []string{"weather"}, m.Commands())
	require.Equal(t, meshmsg.ScopeBoth, m.Scope())
}

func TestHandleCommandUsesDefaultLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"temperature_2m":20,"relative_humidity_2m":55,"weather_code":1,"wind_speed_10m":10}}`))
	}))
	defer srv.Close()

	m := New(25.0, 121.0, "metric")
	m.baseURL = srv.URL
	st := newTestStore(t)

	responses, err := m.HandleCommand(context.Background(), "weather", "", testContext(), st)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Contains(t, responses[0].Text, "Mainly clear")
	require.NotContains(t, responses[0].Text, "your location")
}

func TestHandleCommandUsesSenderPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current":{"temperature_2m":20,"relative_humidity_2m":55,"weather_code":0,"wind_speed_10m":10}}`))
	}))
	defer srv.Close()

	m := New(25.0, 121.0, "metric")
	m.baseURL = srv.URL
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpdatePosition(ctx, 0, 40.0, -70.0))
	_, err := st.UpsertNode(ctx, 0x12345678, "N", "Node", false, 1)
	require.NoError(t, err)
	require.NoError(t, st.UpdatePosition(ctx, 0x12345678, 40.0, -70.0))

	responses, err := m.HandleCommand(ctx, "weather", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "your location")
}

func TestHandleCommandHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := New(25.0, 121.0, "metric")
	m.baseURL = srv.URL
	st := newTestStore(t)

	responses, err := m.HandleCommand(context.Background(), "weather", "", testContext(), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "Weather unavailable")
}
