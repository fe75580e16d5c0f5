package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaxiLake_Logger_Formats(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithFormat(&buf, FormatJSON, false)
		log.Debug("hidden")
		log.Info("dropped column", "column", "mta_tax", "empty", "")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		require.Equal(t, "dropped column", rec["msg"])
		require.Equal(t, "mta_tax", rec["column"])
		require.NotContains(t, rec, "empty")
		require.True(t, strings.HasSuffix(rec["time"].(string), "Z"))
	})

	t.Run("text verbose", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithFormat(&buf, "TEXT", true)
		log.Debug("parsed timestamps", "failures", 2)
		require.Contains(t, buf.String(), "parsed timestamps")
		require.Contains(t, buf.String(), "failures=2")
	})
}

func TestTaxiLake_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2009, 1, 3, 11, 5, 27, 123_456_789, time.FixedZone("EST", -5*3600))
	require.Equal(t, "2009-01-03T16:05:27.123Z", formatRFC3339Millis(ts))
}
