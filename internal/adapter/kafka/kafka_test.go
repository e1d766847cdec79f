package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-incident-ingest/internal/config"
	"github.com/couchcryptid/traffic-incident-ingest/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	updated := time.Date(2025, 4, 1, 19, 53, 0, 0, time.FixedZone("EDT", -4*3600))
	inc := domain.Incident{
		ID:         "B1",
		Source:     domain.SourceWTOP,
		Title:      "Crash on I-495",
		Severity:   domain.SeverityMajor,
		LastUpdate: updated,
	}

	msg, err := serializeToMessage(inc)
	require.NoError(t, err)

	assert.Equal(t, []byte("B1"), msg.Key)
	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "B1", body["incident_id"])
	assert.Equal(t, "Major", body["severity"])
	assert.Equal(t, map[string]any{}, body["additional_data"], "nil additional data is published as an empty object")

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("WTOP"), msg.Headers[0].Value)
	assert.Equal(t, "last_update", msg.Headers[1].Key)
	assert.Equal(t, []byte("2025-04-01T23:53:00Z"), msg.Headers[1].Value)
}

func TestLoadBatch_EmptyIsNoOp(t *testing.T) {
	w := NewWriter(&config.Config{KafkaBrokers: []string{"localhost:1"}, KafkaTopic: "traffic-incidents"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer w.Close()

	require.NoError(t, w.LoadBatch(context.Background(), nil))
}
