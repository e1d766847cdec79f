package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eastern = time.FixedZone("EDT", -4*60*60)

// freezeClock pins the package clock for the duration of a test.
func freezeClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2025, time.April, 2, 9, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { SetClock(nil) })
	return now
}

func TestParseSeverityClass(t *testing.T) {
	cases := []struct {
		class string
		want  Severity
	}{
		{"incident severity-3", SeverityMajor},
		{"incident severity-2", SeverityModerate},
		{"incident severity-1", SeverityMinor},
		{"class severity-3", SeverityMajor},
		{"severity-2 severity-3", SeverityMajor},
		{"incident", SeverityMinor},
		{"", SeverityMinor},
	}
	for _, tc := range cases {
		t.Run(tc.class, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseSeverityClass(tc.class))
		})
	}
}

func TestParsePageTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"04/01/2025 at 07:53pm", time.Date(2025, time.April, 1, 19, 53, 0, 0, eastern)},
		{"04/01/2025 at 07:53PM", time.Date(2025, time.April, 1, 19, 53, 0, 0, eastern)},
		{"04/01/2025 at 7:53 pm", time.Date(2025, time.April, 1, 19, 53, 0, 0, eastern)},
		{"12/31/2024 at 12:05am", time.Date(2024, time.December, 31, 0, 5, 0, 0, eastern)},
		{"04/01/2025 at 12:30pm", time.Date(2025, time.April, 1, 12, 30, 0, 0, eastern)},
		{"04/01/2025 at 11:59am", time.Date(2025, time.April, 1, 11, 59, 0, 0, eastern)},
		{"  04/01/2025  at  01:00am ", time.Date(2025, time.April, 1, 1, 0, 0, 0, eastern)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePageTime(tc.in, eastern)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestParsePageTime_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"invalid date",
		"2025-04-01 19:53",
		"04/01/2025 07:53pm",
		"4/1/2025 at 07:53pm",
		"13/01/2025 at 07:53pm",
		"02/30/2025 at 07:53pm",
		"04/01/2025 at 07:75pm",
		"04/01/2025 at 07:53",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePageTime(in, eastern)
			assert.Error(t, err)
		})
	}
}

func TestPageTimeOrNow_FallsBackToNow(t *testing.T) {
	now := freezeClock(t)

	got, pe := PageTimeOrNow("reported", "invalid date", eastern)
	assert.True(t, now.Equal(got))
	require.NotNil(t, pe)
	assert.Equal(t, "reported", pe.Field)
	assert.Equal(t, "invalid date", pe.Value)

	got, pe = PageTimeOrNow("reported", "", eastern)
	assert.True(t, now.Equal(got))
	assert.Nil(t, pe, "empty input is missing, not malformed")
}

func TestPageTimeOrNow_NilLocationUsesLocal(t *testing.T) {
	got, pe := PageTimeOrNow("reported", "04/01/2025 at 07:53pm", nil)
	require.Nil(t, pe)
	assert.Equal(t, time.Date(2025, time.April, 1, 19, 53, 0, 0, time.Local), got)
}

func TestFeedTimeOrNow(t *testing.T) {
	now := freezeClock(t)
	epoch := time.Date(2025, time.April, 1, 23, 53, 0, 0, time.UTC)

	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch millis number", "1743551580000", epoch},
		{"epoch millis string", `"1743551580000"`, epoch},
		{"epoch seconds", "1743551580", epoch},
		{"rfc3339", `"2025-04-01T23:53:00Z"`, epoch},
		{"zone-less layout", `"2025-04-01 19:53:00"`, epoch},
		{"us layout", `"04/01/2025 7:53:00 PM"`, epoch},
		{"page layout", `"04/01/2025 at 07:53pm"`, epoch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, pe := FeedTimeOrNow("createTime", json.RawMessage(tc.raw), eastern)
			require.Nil(t, pe)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}

	t.Run("missing", func(t *testing.T) {
		for _, raw := range []string{"", "null"} {
			got, pe := FeedTimeOrNow("createTime", json.RawMessage(raw), eastern)
			assert.Nil(t, pe)
			assert.True(t, now.Equal(got))
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{`"yesterday"`, `""`, "-5", "true"} {
			got, pe := FeedTimeOrNow("createTime", json.RawMessage(raw), eastern)
			require.NotNil(t, pe, raw)
			assert.True(t, now.Equal(got))
		}
	})
}
