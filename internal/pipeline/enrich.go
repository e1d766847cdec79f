package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

// GeocodeEnricher fills missing coordinates by forward geocoding the incident location.
type GeocodeEnricher struct {
	geocoder domain.Geocoder
	region   string
	logger   *slog.Logger
}

// NewGeocodeEnricher creates a GeocodeEnricher. Pass a nil geocoder to disable
// geocoding enrichment.
func NewGeocodeEnricher(geocoder domain.Geocoder, region string, logger *slog.Logger) *GeocodeEnricher {
	return &GeocodeEnricher{geocoder: geocoder, region: region, logger: logger}
}

func (e *GeocodeEnricher) Enrich(ctx context.Context, inc domain.Incident) domain.Incident {
	return domain.EnrichWithGeocoding(ctx, inc, e.geocoder, e.region, e.logger)
}
