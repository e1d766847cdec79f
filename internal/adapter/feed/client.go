package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

// maxErrorBody bounds how much of a non-2xx body is copied into the error.
const maxErrorBody = 512

// Client fetches the CHART incident feed over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feed client for url. timeout bounds the whole request.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchIncidents retrieves and decodes the feed. Transport failures and non-2xx
// responses return a *domain.FetchError; an undecodable envelope returns a
// *domain.SchemaError. Individual records that fail to decode are logged and
// dropped without failing the fetch.
func (c *Client) FetchIncidents(ctx context.Context) (domain.ChartResponse, error) {
	var resp domain.ChartResponse
	if err := FetchJSON(ctx, c.httpClient, c.url, domain.SourceChart, &resp); err != nil {
		return domain.ChartResponse{}, err
	}
	for _, pe := range resp.Rejected {
		c.logger.Warn("skipping undecodable feed record", "entry", pe.Field, "error", pe.Err, "value", pe.Value)
	}
	c.logger.Debug("feed fetched", "url", c.url, "records", len(resp.Data), "rejected", len(resp.Rejected))
	return resp, nil
}

// FetchJSON issues a GET to url and decodes the JSON body into dst.
func FetchJSON(ctx context.Context, client *http.Client, url, source string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.FetchError{Source: source, Op: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &domain.FetchError{Source: source, Op: "get", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.FetchError{
			Source: source,
			Op:     "get",
			Err:    fmt.Errorf("unexpected status %s: %s", resp.Status, body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &domain.SchemaError{Source: source, Reason: "decode payload", Err: err}
	}
	return nil
}
