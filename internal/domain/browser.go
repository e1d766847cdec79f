package domain

import (
	"strings"
	"time"
)

// BrowserRecord is one incident card extracted from the WTOP traffic page.
// All fields are raw text as rendered.
type BrowserRecord struct {
	ID            string `json:"id"`
	SeverityClass string `json:"class"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	Direction     string `json:"direction"`
	Blockage      string `json:"blockage"`
	Type          string `json:"type"`
	ReportedText  string `json:"reported"`
	UpdatedText   string `json:"updated"`
}

// Normalize maps a WTOP card to a canonical Incident. Severity is derived from
// the class attribute and page timestamps are parsed in loc, falling back to now.
func (r BrowserRecord) Normalize(loc *time.Location) (Incident, []ParseError) {
	var issues []ParseError
	timeOrNow := func(field, s string) time.Time {
		t, pe := PageTimeOrNow(field, s, loc)
		if pe != nil {
			issues = append(issues, *pe)
		}
		return t
	}

	extra := map[string]any{}
	for key, value := range map[string]string{
		"direction": r.Direction,
		"blockage":  r.Blockage,
		"type":      r.Type,
	} {
		if v := strings.TrimSpace(value); v != "" {
			extra[key] = v
		}
	}

	inc := Incident{
		ID:             strings.TrimSpace(r.ID),
		Source:         SourceWTOP,
		Title:          strings.TrimSpace(r.Title),
		IncidentType:   strings.TrimSpace(r.Type),
		Description:    strings.TrimSpace(r.Description),
		Location:       strings.TrimSpace(r.Location),
		Direction:      strings.TrimSpace(r.Direction),
		LanesStatus:    strings.TrimSpace(r.Blockage),
		Severity:       ParseSeverityClass(r.SeverityClass),
		ReportedTime:   timeOrNow("reported", r.ReportedText),
		LastUpdate:     timeOrNow("updated", r.UpdatedText),
		AdditionalData: extra,
	}
	return inc, issues
}
