package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source tags written to the source column.
const (
	SourceChart = "CHART"
	SourceWTOP  = "WTOP"
)

// Severity is the three-level scale used by the browser source.
type Severity string

const (
	SeverityMinor    Severity = "Minor"
	SeverityModerate Severity = "Moderate"
	SeverityMajor    Severity = "Major"
	SeverityUnknown  Severity = "Unknown"
)

// Incident is the canonical, source-agnostic incident record. Fields that a
// source does not provide are left at their zero value.
type Incident struct {
	ID     string `json:"incident_id"`
	Source string `json:"source"`

	Title        string `json:"title,omitempty"`
	IncidentType string `json:"incident_type,omitempty"`
	Description  string `json:"description,omitempty"`
	Location     string `json:"location,omitempty"`
	County       string `json:"county,omitempty"`
	OpCenter     string `json:"op_center,omitempty"`

	// SeverityCode is the numeric CHART event type. Severity is the WTOP level.
	SeverityCode int      `json:"severity_code,omitempty"`
	Severity     Severity `json:"severity,omitempty"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	Direction        string `json:"direction,omitempty"`
	Lanes            string `json:"lanes,omitempty"`
	LanesStatus      string `json:"lanes_status,omitempty"`
	VehiclesInvolved string `json:"vehicles_involved,omitempty"`
	Participants     string `json:"participants,omitempty"`
	TrafficAlert     bool   `json:"traffic_alert"`

	ReportedTime time.Time `json:"reported_time"`
	CreateTime   time.Time `json:"create_time"`
	StartTime    time.Time `json:"start_time"`
	LastUpdate   time.Time `json:"last_update"`

	AdditionalData map[string]any `json:"additional_data"`
}

// RawIncident is a source-specific record that can produce a canonical Incident.
// Normalize never fails; fields that could not be parsed fall back to their
// documented defaults and are reported as ParseErrors.
type RawIncident interface {
	Normalize(loc *time.Location) (Incident, []ParseError)
}

// Validate reports whether the incident can be persisted.
func (i Incident) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrMissingID
	}
	return nil
}

// AdditionalDataJSON encodes AdditionalData, writing an empty object for a nil map
// so the stored column is always a JSON object.
func (i Incident) AdditionalDataJSON() ([]byte, error) {
	if i.AdditionalData == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(i.AdditionalData)
	if err != nil {
		return nil, fmt.Errorf("encode additional data: %w", err)
	}
	return data, nil
}

// StoredIncident is an Incident read back from the latest-state table along
// with its row metadata.
type StoredIncident struct {
	Incident
	CreatedAt time.Time
	UpdatedAt time.Time
}
