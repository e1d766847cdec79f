package domain

import (
	"context"
	"log/slog"
	"strings"
)

// Geocoding provenance values recorded in AdditionalData["geo_source"].
const (
	GeoSourceForward = "forward"
	GeoSourceFeed    = "feed"
	GeoSourceFailed  = "failed"
)

// EnrichWithGeocoding fills Lat/Lon for incidents that only carry a textual
// location. Incidents that already have coordinates, have no usable location,
// or fail to geocode are returned with their coordinates untouched.
func EnrichWithGeocoding(ctx context.Context, inc Incident, geocoder Geocoder, region string, logger *slog.Logger) Incident {
	if geocoder == nil {
		return inc
	}
	if inc.AdditionalData == nil {
		inc.AdditionalData = map[string]any{}
	}

	location := strings.TrimSpace(inc.Location)
	if inc.Lat != nil && inc.Lon != nil {
		inc.AdditionalData["geo_source"] = GeoSourceFeed
		return inc
	}
	if location == "" || strings.EqualFold(location, "Unknown") {
		return inc
	}

	result, err := geocoder.ForwardGeocode(ctx, location, region)
	if err != nil {
		logger.Warn("forward geocoding failed",
			"incident_id", inc.ID,
			"location", location,
			"region", region,
			"error", err,
		)
		inc.AdditionalData["geo_source"] = GeoSourceFailed
		return inc
	}
	if result.Lat == 0 && result.Lon == 0 {
		return inc
	}

	lat, lon := result.Lat, result.Lon
	inc.Lat = &lat
	inc.Lon = &lon
	inc.AdditionalData["geo_source"] = GeoSourceForward
	if result.FormattedAddress != "" {
		inc.AdditionalData["formatted_address"] = result.FormattedAddress
	}
	if result.Confidence > 0 {
		inc.AdditionalData["geo_confidence"] = result.Confidence
	}
	return inc
}
