package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/metric"
)

func TestProcHealth(t *testing.T) {
	reader := NewProcReader(testLogger, filepath.Join(fixturesDir, "proc"))

	records, err := reader.Read(context.Background(), metric.CategoryHealth)
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "system_health", record.Kind)
	assert.InDelta(t, 350735.47, fieldValue(t, record, "uptime_seconds"), 0.001)
	assert.Equal(t, 0.42, fieldValue(t, record, "load_1min"))
	assert.Equal(t, 0.36, fieldValue(t, record, "load_5min"))
	assert.Equal(t, 0.31, fieldValue(t, record, "load_15min"))
	assert.Equal(t, "Enabled", conditionRaw(t, record, "state"))
	assert.Equal(t, "OK", conditionRaw(t, record, "health"))
	assert.Equal(t, "On", conditionRaw(t, record, "power_state"))
}

func TestProcMemory(t *testing.T) {
	reader := NewProcReader(testLogger, filepath.Join(fixturesDir, "proc"))

	records, err := reader.Read(context.Background(), metric.CategoryMemory)
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "memory_usage", record.Kind)
	assert.Equal(t, 15936.0, fieldValue(t, record, "total_mb"))
	assert.Equal(t, 7968.0, fieldValue(t, record, "available_mb"))
	assert.Equal(t, 7968.0, fieldValue(t, record, "used_mb"))
	assert.Equal(t, 1030.0, fieldValue(t, record, "free_mb"))
	assert.Equal(t, 512.0, fieldValue(t, record, "buffers_mb"))
	assert.Equal(t, 6144.0, fieldValue(t, record, "cached_mb"))
	assert.InDelta(t, 50.0, fieldValue(t, record, "usage_percent"), 0.1)
}

func TestProcUnavailable(t *testing.T) {
	reader := NewProcReader(testLogger, filepath.Join(fixturesDir, "does-not-exist"))

	_, err := reader.Read(context.Background(), metric.CategoryHealth)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	_, err = reader.Read(context.Background(), metric.CategoryThermal)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestParseUptime(t *testing.T) {
	uptime, ok := parseUptime("12.5 40.1")
	assert.True(t, ok)
	assert.Equal(t, 12.5, uptime)

	_, ok = parseUptime("")
	assert.False(t, ok)
	_, ok = parseUptime("-3 1")
	assert.False(t, ok)
}
