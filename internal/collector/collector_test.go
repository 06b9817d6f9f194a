package collector

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/normalize"
	"github.com/vinted/ilo-monitor/internal/source"
)

var (
	testLogger = promslog.NewNopLogger()
	passTime   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeReader struct {
	name       string
	categories []metric.Category
	records    map[metric.Category][]metric.Record
	err        error
	panicValue any
	block      bool
	calls      int
}

func (f *fakeReader) Name() string {
	return f.name
}

func (f *fakeReader) Categories() []metric.Category {
	if f.categories == nil {
		return metric.Categories
	}
	return f.categories
}

func (f *fakeReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	f.calls++
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records[category], nil
}

func temperature(name string, value float64, status string) metric.Record {
	record := metric.Record{Kind: "temperature", Name: name, Category: metric.CategoryThermal}
	record.AddField(metric.Float("value", value, metric.UnitCelsius))
	if status != "" {
		record.AddCondition("status", status)
	}
	return record
}

func newTestCollector(config Config) *Collector {
	c := New(testLogger, normalize.New(nil, testLogger), config)
	c.now = func() time.Time { return passTime }
	return c
}

func thermalPlan(names ...string) Plan {
	return Plan{metric.CategoryThermal: names}
}

func TestCollectHigherPriorityWins(t *testing.T) {
	ipmi := &fakeReader{name: source.NameIPMITool, records: map[metric.Category][]metric.Record{
		metric.CategoryThermal: {temperature("CPU1 Temp", 45, "ok")},
	}}
	sensors := &fakeReader{name: source.NameSensors, records: map[metric.Category][]metric.Record{
		metric.CategoryThermal: {temperature("CPU 1", 47, ""), temperature("Package id 0", 50, "")},
	}}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "ilo-a",
		Version: "5",
		Readers: []source.Reader{sensors, ipmi},
		Plan:    thermalPlan(source.NameIPMITool, source.NameSensors),
	})

	require.Equal(t, 2, set.Len())
	assert.Equal(t, passTime, set.Timestamp)

	cpu, ok := set.Get("temperature_cpu1")
	require.True(t, ok)
	assert.Equal(t, source.NameIPMITool, cpu.Source)
	value, _ := cpu.Value()
	assert.Equal(t, 45.0, value)
	status, _ := cpu.Status()
	assert.Equal(t, metric.StatusOK, status)
	assert.Empty(t, cpu.Shadowed)

	_, ok = set.Get("temperature_package_id0")
	assert.True(t, ok)
}

func TestCollectVerboseRecordsShadowedSources(t *testing.T) {
	readers := []source.Reader{
		&fakeReader{name: source.NameHPASMCLI, records: map[metric.Category][]metric.Record{
			metric.CategoryThermal: {temperature("CPU#1", 40, "")},
		}},
		&fakeReader{name: source.NameIPMITool, records: map[metric.Category][]metric.Record{
			metric.CategoryThermal: {temperature("CPU1 Temp", 41, "ok")},
		}},
		&fakeReader{name: source.NameSensors, records: map[metric.Category][]metric.Record{
			metric.CategoryThermal: {temperature("CPU 1", 42, "")},
		}},
	}

	set := newTestCollector(Config{Verbose: true}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: readers,
		Plan:    thermalPlan(source.NameHPASMCLI, source.NameIPMITool, source.NameSensors),
	})

	cpu, ok := set.Get("temperature_cpu1")
	require.True(t, ok)
	assert.Equal(t, source.NameHPASMCLI, cpu.Source)
	assert.Equal(t, []string{source.NameIPMITool, source.NameSensors}, cpu.Shadowed)
}

func TestCollectZeroRPMFanIsWarning(t *testing.T) {
	fan := metric.Record{Kind: "fan", Name: "Fan 3"}
	fan.AddField(metric.Int("speed_rpm", 0, metric.UnitRPM))
	reader := &fakeReader{name: source.NameSensors, records: map[metric.Category][]metric.Record{
		metric.CategoryThermal: {fan},
	}}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameSensors),
	})

	record, ok := set.Get("fan_fan3")
	require.True(t, ok)
	status, _ := record.Status()
	assert.Equal(t, metric.StatusWarning, status)
}

func TestCollectUnavailableCategoryIsEmpty(t *testing.T) {
	missingTool := &fakeReader{
		name:       source.NameSSACLI,
		categories: []metric.Category{metric.CategoryStorage},
		err:        fmt.Errorf("running ssacli: %w", command.ErrNotInstalled),
	}
	unreachable := &fakeReader{
		name:       source.NameSmartctl,
		categories: []metric.Category{metric.CategoryStorage},
		err:        fmt.Errorf("%w: no devices", source.ErrSourceUnavailable),
	}
	thermal := &fakeReader{
		name:       source.NameSensors,
		categories: []metric.Category{metric.CategoryThermal},
		records: map[metric.Category][]metric.Record{
			metric.CategoryThermal: {temperature("Inlet", 21, "")},
		},
	}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{missingTool, unreachable, thermal},
		Plan: Plan{
			metric.CategoryThermal: {source.NameSensors},
			metric.CategoryStorage: {source.NameSSACLI, source.NameSmartctl},
		},
	})

	assert.Empty(t, set.CategoryRecords(metric.CategoryStorage))
	assert.Len(t, set.CategoryRecords(metric.CategoryThermal), 1)
	assert.Equal(t, 1, missingTool.calls)
	assert.Equal(t, 1, unreachable.calls)
}

func TestCollectFailureAddsMarkerAndContinues(t *testing.T) {
	broken := &fakeReader{name: source.NameHPASMCLI, err: fmt.Errorf("parsing output: unexpected header")}
	fallback := &fakeReader{name: source.NameSensors, records: map[metric.Category][]metric.Record{
		metric.CategoryThermal: {temperature("Inlet", 21, "")},
	}}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{broken, fallback},
		Plan:    thermalPlan(source.NameHPASMCLI, source.NameSensors),
	})

	marker, ok := set.Get("collection_error_thermal_hpasmcli")
	require.True(t, ok)
	assert.Equal(t, metric.CategoryThermal, marker.Category)
	assert.Equal(t, source.NameHPASMCLI, marker.Source)
	message, _ := marker.Tag("error")
	assert.Contains(t, message, "unexpected header")
	assert.Empty(t, marker.Fields)
	assert.Empty(t, marker.Conditions)

	_, ok = set.Get("temperature_inlet")
	assert.True(t, ok)
}

func TestCollectKeepsMarkerPerFailingReader(t *testing.T) {
	ipmitool := &fakeReader{name: source.NameIPMITool, err: fmt.Errorf("sdr type: unexpected column count")}
	sensors := &fakeReader{name: source.NameSensors, err: fmt.Errorf("decoding sensors json: unexpected EOF")}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{ipmitool, sensors},
		Plan:    thermalPlan(source.NameIPMITool, source.NameSensors),
	})

	require.Equal(t, 2, set.Len())

	first, ok := set.Get("collection_error_thermal_ipmitool")
	require.True(t, ok)
	assert.Equal(t, source.NameIPMITool, first.Source)
	message, _ := first.Tag("error")
	assert.Contains(t, message, "unexpected column count")

	second, ok := set.Get("collection_error_thermal_sensors")
	require.True(t, ok)
	assert.Equal(t, source.NameSensors, second.Source)
	message, _ = second.Tag("error")
	assert.Contains(t, message, "unexpected EOF")
	assert.Empty(t, second.Shadowed)
}

func TestCollectRecoversReaderPanic(t *testing.T) {
	reader := &fakeReader{name: source.NameIPMITool, panicValue: "index out of range"}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameIPMITool),
	})

	marker, ok := set.Get("collection_error_thermal_ipmitool")
	require.True(t, ok)
	message, _ := marker.Tag("error")
	assert.True(t, strings.HasPrefix(message, ErrReaderPanic.Error()), message)
}

func TestCollectSourceTimeout(t *testing.T) {
	reader := &fakeReader{name: source.NameSensors, block: true}

	set := newTestCollector(Config{SourceTimeout: 10 * time.Millisecond}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameSensors),
	})

	marker, ok := set.Get("collection_error_thermal_sensors")
	require.True(t, ok)
	message, _ := marker.Tag("error")
	assert.Contains(t, message, context.DeadlineExceeded.Error())
}

func TestCollectSkipsUndeclaredAndUnknownReaders(t *testing.T) {
	reader := &fakeReader{name: source.NameDMIDecode, categories: []metric.Category{metric.CategoryMemory}}

	set := newTestCollector(Config{}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameDMIDecode, source.NameNVML),
	})

	assert.Zero(t, set.Len())
	assert.Zero(t, reader.calls)
}

func TestCollectCancelledContext(t *testing.T) {
	reader := &fakeReader{name: source.NameSensors}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := newTestCollector(Config{}).Collect(ctx, Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameSensors),
	})

	assert.Zero(t, set.Len())
	assert.Zero(t, reader.calls)
}

func TestCollectSelfMetrics(t *testing.T) {
	reader := &fakeReader{name: source.NameSensors, records: map[metric.Category][]metric.Record{
		metric.CategoryThermal: {temperature("Inlet", 21, ""), temperature("Exhaust", 30, "")},
	}}

	set := newTestCollector(Config{SelfMetrics: true}).Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: []source.Reader{reader},
		Plan:    thermalPlan(source.NameSensors),
	})

	thermal, ok := set.Get("collector_thermal")
	require.True(t, ok)
	records, _ := thermal.Field("records")
	assert.Equal(t, int64(2), records.Int)
	tried, _ := thermal.Field("sources_tried")
	assert.Equal(t, int64(1), tried.Int)
	success, _ := thermal.Field("success")
	assert.True(t, success.Bool)

	for _, category := range metric.Categories {
		_, ok := set.Get("collector_" + string(category))
		assert.True(t, ok, category)
	}
}

func TestCollectorStats(t *testing.T) {
	c := newTestCollector(Config{})
	readers := []source.Reader{
		&fakeReader{name: source.NameHPASMCLI, categories: []metric.Category{metric.CategoryPower}, err: fmt.Errorf("bad output")},
		&fakeReader{name: source.NameSensors, categories: []metric.Category{metric.CategoryThermal}, records: map[metric.Category][]metric.Record{
			metric.CategoryThermal: {temperature("Inlet", 21, "")},
		}},
	}
	c.Collect(context.Background(), Target{
		Host:    "localhost",
		Readers: readers,
		Plan: Plan{
			metric.CategoryThermal: {source.NameSensors},
			metric.CategoryPower:   {source.NameHPASMCLI},
		},
	})

	problems, err := testutil.CollectAndLint(c.Stats())
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, 4*len(metric.Categories), testutil.CollectAndCount(c.Stats()))

	expected := `
# HELP ilo_monitor_category_success Whether every reader of the category completed without a collection failure
# TYPE ilo_monitor_category_success gauge
ilo_monitor_category_success{category="health",host="localhost"} 1
ilo_monitor_category_success{category="memory",host="localhost"} 1
ilo_monitor_category_success{category="power",host="localhost"} 0
ilo_monitor_category_success{category="storage",host="localhost"} 1
ilo_monitor_category_success{category="thermal",host="localhost"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c.Stats(), strings.NewReader(expected), "ilo_monitor_category_success"))
}
