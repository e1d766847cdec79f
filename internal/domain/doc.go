// Package domain models road-traffic incidents collected from two Maryland
// sources and the rules used to normalize them into a canonical Incident.
//
// # Data Sources
//
// CHART (Coordinated Highways Action Response Team) publishes a JSON export of
// active events at getEventMapDataJSON.do. The body is wrapped as
//
//	{"success": true, "data": [ {...}, {...} ]}
//
// and every element of data is decoded into a ChartRecord. Only records for the
// configured county are kept. CHART rows are stored as history: each poll inserts
// a new row even when the incident id has been seen before.
//
// WTOP renders its traffic page in the browser. The scraper extracts one
// BrowserRecord per incident card. WTOP rows are stored as latest state keyed
// by incident id.
//
// # WTOP Conventions
//
// Severity is encoded in the card's class attribute:
//
//	"incident severity-3"  →  Major
//	"incident severity-2"  →  Moderate
//	anything else          →  Minor
//
// Timestamps appear in the card footer as free text:
//
//	"Reported: 04/01/2025 at 07:53pm | Updated: 04/01/2025 at 08:10pm"
//
// The date/time portion is MM/DD/YYYY, the literal "at", then h:mm with an
// am/pm suffix in the page's local time zone.
//
// # Fallbacks
//
// Normalization never rejects a record for a bad field. Timestamps that are
// missing or unparseable become the current time, severity classes that do not
// match become Minor, and additional data is always a non-nil map. Each
// fallback is reported back as a ParseError so callers can log it at debug level.
package domain
