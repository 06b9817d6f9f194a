package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	nodecollector "github.com/prometheus/node_exporter/collector"
	"github.com/vinted/ilo-monitor/internal/metric"
)

const (
	hwmonTemperatureFamily = "node_hwmon_temp_celsius"
	hwmonCriticalFamily    = "node_hwmon_temp_crit_celsius"
	hwmonMaxFamily         = "node_hwmon_temp_max_celsius"
	hwmonFanFamily         = "node_hwmon_fan_rpm"
	hwmonChipNamesFamily   = "node_hwmon_chip_names"
	hwmonSensorLabelFamily = "node_hwmon_sensor_label"
)

// NewNodeHwmonGatherer wraps node_exporter's hwmon collector in a private
// registry. The node_exporter kingpin flags must already be parsed.
func NewNodeHwmonGatherer(logger *slog.Logger) (prometheus.Gatherer, error) {
	nodeCollector, err := nodecollector.NewNodeCollector(logger, "hwmon")
	if err != nil {
		return nil, fmt.Errorf("creating hwmon collector: %w", err)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(nodeCollector); err != nil {
		return nil, fmt.Errorf("registering hwmon collector: %w", err)
	}
	return registry, nil
}

type hwmonSensor struct {
	chip   string
	sensor string
}

// HwmonReader turns node_exporter hwmon metric families into records.
type HwmonReader struct {
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

func NewHwmonReader(logger *slog.Logger, gatherer prometheus.Gatherer) *HwmonReader {
	return &HwmonReader{logger: logger, gatherer: gatherer}
}

func (r *HwmonReader) Name() string {
	return NameHwmon
}

func (r *HwmonReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryThermal}
}

func (r *HwmonReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryThermal {
		return nil, unsupportedCategory(r, category)
	}
	if r.gatherer == nil {
		return nil, unavailable("hwmon collector not initialised")
	}

	families, err := r.gatherer.Gather()
	if err != nil && len(families) == 0 {
		return nil, unavailable("gathering hwmon: %v", err)
	}
	if err != nil {
		r.logger.Debug("Partial hwmon gather", "error", err)
	}

	return hwmonRecords(families), nil
}

func hwmonRecords(families []*dto.MetricFamily) []metric.Record {
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	chipNames := map[string]string{}
	for _, m := range byName[hwmonChipNamesFamily].GetMetric() {
		labels := labelMap(m)
		chipNames[labels["chip"]] = labels["chip_name"]
	}

	sensorLabels := map[hwmonSensor]string{}
	for _, m := range byName[hwmonSensorLabelFamily].GetMetric() {
		labels := labelMap(m)
		sensorLabels[hwmonSensor{chip: labels["chip"], sensor: labels["sensor"]}] = labels["label"]
	}

	displayName := func(sensor hwmonSensor) string {
		chip := chipNames[sensor.chip]
		if chip == "" {
			chip = sensor.chip
		}
		label := sensorLabels[sensor]
		if label == "" {
			label = sensor.sensor
		}
		return chip + " " + label
	}

	critical := gaugeValues(byName[hwmonCriticalFamily])
	maximum := gaugeValues(byName[hwmonMaxFamily])

	var records []metric.Record
	temperatures := gaugeValues(byName[hwmonTemperatureFamily])
	for _, sensor := range sortedSensors(temperatures) {
		record := newRecord(metric.CategoryThermal, "temperature", displayName(sensor))
		record.AddTag("chip", sensor.chip)
		record.AddTag("sensor", sensor.sensor)
		record.AddField(metric.Float("value", temperatures[sensor], metric.UnitCelsius))
		if value, ok := critical[sensor]; ok && value > 0 {
			record.AddField(metric.Float("upper_threshold_critical", value, metric.UnitCelsius))
		}
		if value, ok := maximum[sensor]; ok && value > 0 {
			record.AddField(metric.Float("upper_threshold_warning", value, metric.UnitCelsius))
		}
		records = append(records, record)
	}

	fans := gaugeValues(byName[hwmonFanFamily])
	for _, sensor := range sortedSensors(fans) {
		record := newRecord(metric.CategoryThermal, "fan", displayName(sensor))
		record.AddTag("chip", sensor.chip)
		record.AddTag("sensor", sensor.sensor)
		record.AddField(metric.Int("speed_rpm", int64(fans[sensor]), metric.UnitRPM))
		records = append(records, record)
	}

	return records
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, pair := range m.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

func gaugeValues(family *dto.MetricFamily) map[hwmonSensor]float64 {
	values := map[hwmonSensor]float64{}
	for _, m := range family.GetMetric() {
		labels := labelMap(m)
		values[hwmonSensor{chip: labels["chip"], sensor: labels["sensor"]}] = m.GetGauge().GetValue()
	}
	return values
}

func sortedSensors(values map[hwmonSensor]float64) []hwmonSensor {
	keyed := make(map[string]hwmonSensor, len(values))
	for sensor := range values {
		keyed[sensor.chip+"\x00"+sensor.sensor] = sensor
	}
	sensors := make([]hwmonSensor, 0, len(keyed))
	for _, key := range sortedKeys(keyed) {
		sensors = append(sensors, keyed[key])
	}
	return sensors
}
