package browser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/network"

	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

var (
	reportedRe = regexp.MustCompile(`(?i)\breported:\s*(.+?)\s*(?:\bupdated:|\||$)`)
	updatedRe  = regexp.MustCompile(`(?i)\bupdated:\s*(.+?)\s*(?:\breported:|\||$)`)
)

// pageItem is the shape returned by the extraction script.
type pageItem struct {
	ID          string `json:"id"`
	Class       string `json:"class"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Direction   string `json:"direction"`
	Blockage    string `json:"blockage"`
	Type        string `json:"type"`
	Footer      string `json:"footer"`
}

func (p pageItem) record() domain.BrowserRecord {
	reported, updated := parseFooter(p.Footer)
	return domain.BrowserRecord{
		ID:            p.ID,
		SeverityClass: p.Class,
		Title:         p.Title,
		Description:   p.Description,
		Location:      p.Location,
		Direction:     p.Direction,
		Blockage:      p.Blockage,
		Type:          p.Type,
		ReportedText:  reported,
		UpdatedText:   updated,
	}
}

// parseFooter pulls the "Reported:" and "Updated:" values out of a card footer.
func parseFooter(footer string) (reported, updated string) {
	footer = strings.Join(strings.Fields(footer), " ")
	if m := reportedRe.FindStringSubmatch(footer); m != nil {
		reported = m[1]
	}
	if m := updatedRe.FindStringSubmatch(footer); m != nil {
		updated = m[1]
	}
	return reported, updated
}

// extractScript returns a self-invoking expression that collects every item
// matching sel.Item as a pageItem.
func extractScript(sel config.Selectors) (string, error) {
	encoded, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("encode selectors: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const sel = %s;
  const text = (root, q) => {
    if (!q) return "";
    const el = root.querySelector(q);
    return el ? el.textContent.replace(/\s+/g, " ").trim() : "";
  };
  return Array.from(document.querySelectorAll(sel.item)).map((el) => ({
    id: (el.getAttribute(sel.idAttr) || "").trim(),
    class: el.getAttribute("class") || "",
    title: text(el, sel.title),
    description: text(el, sel.description),
    location: text(el, sel.location),
    direction: text(el, sel.direction),
    blockage: text(el, sel.blockage),
    type: text(el, sel.type),
    footer: text(el, sel.footer),
  }));
})()`, encoded), nil
}

// allowResource reports whether a paused request may proceed. Only the page
// document and script-issued data requests are let through.
func allowResource(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeDocument, network.ResourceTypeXHR, network.ResourceTypeFetch:
		return true
	default:
		return false
	}
}
