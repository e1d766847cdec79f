package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxRejectedValue bounds how much of an undecodable record is kept for logging.
const maxRejectedValue = 256

// ChartResponse is the envelope returned by the CHART event export.
// Success and Data are left nil when the fields are absent so Validate can tell
// a missing field from an empty one.
type ChartResponse struct {
	Success *bool
	Data    []ChartRecord

	// Rejected lists data entries that could not be decoded as records.
	// They are dropped individually; the rest of the payload is kept.
	Rejected []ParseError
}

// UnmarshalJSON decodes the envelope first and then each data entry on its own,
// so one malformed record cannot discard the others.
func (r *ChartResponse) UnmarshalJSON(data []byte) error {
	var env struct {
		Success *bool             `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*r = ChartResponse{Success: env.Success}
	if env.Data == nil {
		return nil
	}
	r.Data = make([]ChartRecord, 0, len(env.Data))
	for i, raw := range env.Data {
		var rec ChartRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.Rejected = append(r.Rejected, ParseError{
				Field: fmt.Sprintf("data[%d]", i),
				Value: truncate(string(raw), maxRejectedValue),
				Err:   err,
			})
			continue
		}
		r.Data = append(r.Data, rec)
	}
	return nil
}

// Validate checks that the envelope carries a true success flag and a data array.
func (r ChartResponse) Validate() error {
	if r.Success == nil {
		return &SchemaError{Source: SourceChart, Reason: "missing success flag"}
	}
	if !*r.Success {
		return &SchemaError{Source: SourceChart, Reason: "success flag is false"}
	}
	if r.Data == nil {
		return &SchemaError{Source: SourceChart, Reason: "missing data array"}
	}
	return nil
}

// ChartLane is one entry of a CHART lane closure list.
type ChartLane struct {
	LaneDescription string `json:"laneDescription"`
	LaneStatus      string `json:"laneStatus"`
}

// ChartRecord is a single event from the CHART export. Timestamps, severity,
// coordinates and participants are kept raw because CHART mixes numeric and
// string encodings; Normalize parses them with per-field fallbacks.
type ChartRecord struct {
	ID                       LooseString     `json:"id"`
	IncidentType             string          `json:"incidentType"`
	Description              string          `json:"description"`
	Name                     string          `json:"name"`
	Other                    string          `json:"other"`
	County                   string          `json:"county"`
	Type                     json.RawMessage `json:"type"`
	Lat                      json.RawMessage `json:"lat"`
	Lon                      json.RawMessage `json:"lon"`
	Lanes                    []ChartLane     `json:"lanes"`
	CreateTime               json.RawMessage `json:"createTime"`
	StartDateTime            json.RawMessage `json:"startDateTime"`
	LastCachedDataUpdateTime json.RawMessage `json:"lastCachedDataUpdateTime"`
	Direction                string          `json:"direction"`
	Vehicles                 LooseString     `json:"vehicles"`
	LanesStatus              string          `json:"lanesStatus"`
	Participants             json.RawMessage `json:"participants"`
	TrafficAlert             bool            `json:"trafficAlert"`
	OpCenter                 string          `json:"opCenter"`
}

// Normalize maps a CHART record to a canonical Incident. Missing optional
// fields take the CHART defaults: location and direction "Unknown", vehicles
// "Unknown", lane status "All lanes open", empty lanes and participants.
// Unparseable severity or coordinates fall back to 0 and unset.
func (r ChartRecord) Normalize(loc *time.Location) (Incident, []ParseError) {
	var issues []ParseError
	report := func(pe *ParseError) {
		if pe != nil {
			issues = append(issues, *pe)
		}
	}
	timeOrNow := func(field string, raw json.RawMessage) time.Time {
		t, pe := FeedTimeOrNow(field, raw, loc)
		report(pe)
		return t
	}

	code, pe := severityCode(r.Type)
	report(pe)
	lat, pe := coordinate("lat", r.Lat)
	report(pe)
	lon, pe := coordinate("lon", r.Lon)
	report(pe)
	participants, pe := joinParticipants(r.Participants)
	report(pe)

	inc := Incident{
		ID:               strings.TrimSpace(string(r.ID)),
		Source:           SourceChart,
		IncidentType:     r.IncidentType,
		Description:      r.Description,
		Location:         firstNonEmpty(r.Name, r.Other, "Unknown"),
		County:           r.County,
		OpCenter:         r.OpCenter,
		SeverityCode:     code,
		Lat:              lat,
		Lon:              lon,
		Direction:        firstNonEmpty(r.Direction, "Unknown"),
		Lanes:            formatLanes(r.Lanes),
		LanesStatus:      firstNonEmpty(r.LanesStatus, "All lanes open"),
		VehiclesInvolved: firstNonEmpty(string(r.Vehicles), "Unknown"),
		Participants:     participants,
		TrafficAlert:     r.TrafficAlert,
		CreateTime:       timeOrNow("createTime", r.CreateTime),
		StartTime:        timeOrNow("startDateTime", r.StartDateTime),
		LastUpdate:       timeOrNow("lastCachedDataUpdateTime", r.LastCachedDataUpdateTime),
		AdditionalData:   map[string]any{},
	}
	return inc, issues
}

// InCounty reports whether the record belongs to county, ignoring case and surrounding space.
func (r ChartRecord) InCounty(county string) bool {
	return strings.EqualFold(strings.TrimSpace(r.County), strings.TrimSpace(county))
}

// formatLanes renders lanes as "Description (Status), ...".
func formatLanes(lanes []ChartLane) string {
	parts := make([]string, 0, len(lanes))
	for _, l := range lanes {
		parts = append(parts, fmt.Sprintf("%s (%s)", l.LaneDescription, l.LaneStatus))
	}
	return strings.Join(parts, ", ")
}

var errNotNumber = errors.New("not a number")

// looseNumber reads a JSON number or numeric string. ok is false for null and
// empty values, which are absent rather than malformed.
func looseNumber(raw json.RawMessage) (n float64, ok bool, err error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, nil
	}
	if unquoted, uerr := strconv.Unquote(s); uerr == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			return 0, false, nil
		}
	}
	n, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, errNotNumber
	}
	return n, true, nil
}

func severityCode(raw json.RawMessage) (int, *ParseError) {
	n, ok, err := looseNumber(raw)
	if err != nil {
		return 0, &ParseError{Field: "type", Value: string(raw), Err: err}
	}
	if !ok {
		return 0, nil
	}
	return int(n), nil
}

func coordinate(field string, raw json.RawMessage) (*float64, *ParseError) {
	n, ok, err := looseNumber(raw)
	if err != nil {
		return nil, &ParseError{Field: field, Value: string(raw), Err: err}
	}
	if !ok {
		return nil, nil
	}
	return &n, nil
}

// joinParticipants renders a participant list, or a lone string, as "A, B".
func joinParticipants(raw json.RawMessage) (string, *ParseError) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single), nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", &ParseError{Field: "participants", Value: s, Err: err}
	}
	names := make([]string, 0, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case nil:
		case string:
			if v = strings.TrimSpace(v); v != "" {
				names = append(names, v)
			}
		default:
			names = append(names, fmt.Sprint(v))
		}
	}
	return strings.Join(names, ", "), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// LooseString decodes a JSON string or number into a string. CHART is not
// consistent about quoting identifiers and vehicle counts.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("loose string: %w", err)
	}
	*s = LooseString(n.String())
	return nil
}
