package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock geocoder ---

type mockGeocoder struct {
	result     GeocodingResult
	err        error
	calls      int
	lastRegion string
}

func (m *mockGeocoder) ForwardGeocode(_ context.Context, _, region string) (GeocodingResult, error) {
	m.calls++
	m.lastRegion = region
	return m.result, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestEnrichWithGeocoding_NilGeocoder(t *testing.T) {
	inc := Incident{ID: "B1", Location: "I-495 at Georgia Ave"}

	result := EnrichWithGeocoding(context.Background(), inc, nil, "MD", discardLogger())

	assert.Nil(t, result.Lat)
	assert.Nil(t, result.AdditionalData)
}

func TestEnrichWithGeocoding_ForwardGeocode(t *testing.T) {
	geo := &mockGeocoder{
		result: GeocodingResult{
			Lat:              39.0176,
			Lon:              -77.0428,
			FormattedAddress: "Georgia Ave, Silver Spring, Maryland",
			PlaceName:        "Georgia Ave",
			Confidence:       0.9,
		},
	}
	inc := Incident{ID: "B1", Location: "I-495 at Georgia Ave", AdditionalData: map[string]any{"type": "Crash"}}

	result := EnrichWithGeocoding(context.Background(), inc, geo, "MD", discardLogger())

	require.NotNil(t, result.Lat)
	require.NotNil(t, result.Lon)
	assert.Equal(t, 39.0176, *result.Lat)
	assert.Equal(t, -77.0428, *result.Lon)
	assert.Equal(t, GeoSourceForward, result.AdditionalData["geo_source"])
	assert.Equal(t, "Georgia Ave, Silver Spring, Maryland", result.AdditionalData["formatted_address"])
	assert.Equal(t, 0.9, result.AdditionalData["geo_confidence"])
	assert.Equal(t, "Crash", result.AdditionalData["type"])
	assert.Equal(t, "MD", geo.lastRegion)
	assert.Equal(t, 1, geo.calls)
}

func TestEnrichWithGeocoding_ForwardError_GracefulDegradation(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("API timeout")}
	inc := Incident{ID: "B2", Location: "I-270 at Shady Grove Rd"}

	result := EnrichWithGeocoding(context.Background(), inc, geo, "MD", discardLogger())

	assert.Nil(t, result.Lat)
	assert.Nil(t, result.Lon)
	assert.Equal(t, GeoSourceFailed, result.AdditionalData["geo_source"])
}

func TestEnrichWithGeocoding_KeepsExistingCoordinates(t *testing.T) {
	lat, lon := 39.1, -77.2
	geo := &mockGeocoder{}
	inc := Incident{ID: "X1", Location: "MD 355", Lat: &lat, Lon: &lon}

	result := EnrichWithGeocoding(context.Background(), inc, geo, "MD", discardLogger())

	assert.Equal(t, 0, geo.calls)
	assert.Equal(t, 39.1, *result.Lat)
	assert.Equal(t, GeoSourceFeed, result.AdditionalData["geo_source"])
}

func TestEnrichWithGeocoding_NoLocationData(t *testing.T) {
	geo := &mockGeocoder{}

	for _, location := range []string{"", "  ", "Unknown"} {
		result := EnrichWithGeocoding(context.Background(), Incident{ID: "B3", Location: location}, geo, "MD", discardLogger())
		assert.Nil(t, result.Lat)
		assert.NotNil(t, result.AdditionalData)
	}
	assert.Equal(t, 0, geo.calls)
}

func TestEnrichWithGeocoding_ForwardEmptyResult(t *testing.T) {
	geo := &mockGeocoder{result: GeocodingResult{}}

	result := EnrichWithGeocoding(context.Background(), Incident{ID: "B4", Location: "Nowhere"}, geo, "MD", discardLogger())

	assert.Nil(t, result.Lat)
	assert.NotContains(t, result.AdditionalData, "geo_source")
}
