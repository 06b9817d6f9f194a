package source

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

var (
	sensorsTemperatureRe = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)\s*°C`)
	sensorsThresholdRe   = regexp.MustCompile(`(high|crit)\s*=\s*([+-]?\d+(?:\.\d+)?)\s*°C`)
	sensorsFanRe         = regexp.MustCompile(`^(\d+)\s*RPM`)
)

// SensorsReader reads lm-sensors, preferring its JSON output.
type SensorsReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewSensorsReader(logger *slog.Logger, runner command.Runner) *SensorsReader {
	return &SensorsReader{logger: logger, runner: runner}
}

func (r *SensorsReader) Name() string {
	return NameSensors
}

func (r *SensorsReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryThermal}
}

func (r *SensorsReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryThermal {
		return nil, unsupportedCategory(r, category)
	}

	output, err := runTool(ctx, r.runner, r.logger, "sensors", "-A", "-j")
	if err != nil {
		return nil, err
	}

	records, err := parseSensorsJSON(output)
	if err != nil {
		r.logger.Debug("sensors JSON output unreadable, parsing text", "error", err)
		return parseSensorsText(output), nil
	}
	return records, nil
}

// parseSensorsJSON walks the chip -> feature -> subfeature tree. Chips and
// features are visited in sorted order so duplicate names get stable suffixes.
func parseSensorsJSON(output string) ([]metric.Record, error) {
	var chips map[string]map[string]json.RawMessage
	if err := json.Unmarshal([]byte(output), &chips); err != nil {
		return nil, err
	}

	var records []metric.Record
	for _, chip := range sortedKeys(chips) {
		features := chips[chip]
		for _, label := range sortedKeys(features) {
			var subfeatures map[string]float64
			if err := json.Unmarshal(features[label], &subfeatures); err != nil {
				// Adapter names and other scalar entries.
				continue
			}
			if record, ok := sensorsFeatureRecord(chip, label, subfeatures); ok {
				records = append(records, record)
			}
		}
	}
	return records, nil
}

func sensorsFeatureRecord(chip, label string, subfeatures map[string]float64) (metric.Record, bool) {
	name := chipPrefix(chip) + " " + label

	for key, value := range subfeatures {
		if !strings.HasSuffix(key, "_input") {
			continue
		}
		prefix := strings.TrimSuffix(key, "_input")

		switch {
		case strings.HasPrefix(prefix, "temp"):
			record := newRecord(metric.CategoryThermal, "temperature", name)
			record.AddTag("chip", chip)
			record.AddField(metric.Float("value", value, metric.UnitCelsius))
			if critical, ok := subfeatures[prefix+"_crit"]; ok {
				record.AddField(metric.Float("upper_threshold_critical", critical, metric.UnitCelsius))
			}
			if warning, ok := subfeatures[prefix+"_max"]; ok {
				record.AddField(metric.Float("upper_threshold_warning", warning, metric.UnitCelsius))
			}
			return record, true
		case strings.HasPrefix(prefix, "fan"):
			record := newRecord(metric.CategoryThermal, "fan", name)
			record.AddTag("chip", chip)
			record.AddField(metric.Int("speed_rpm", int64(value), metric.UnitRPM))
			return record, true
		}
	}
	return metric.Record{}, false
}

// parseSensorsText handles the human readable layout printed by old
// lm-sensors releases without -j support.
func parseSensorsText(output string) []metric.Record {
	var records []metric.Record
	chip := ""

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			chip = ""
			continue
		}
		if strings.HasPrefix(line, "Adapter:") {
			continue
		}

		label, value, ok := splitKeyValue(line, ":")
		if !ok {
			chip = line
			continue
		}
		if chip == "" {
			continue
		}

		name := chipPrefix(chip) + " " + label
		if match := sensorsTemperatureRe.FindStringSubmatch(value); len(match) == 2 {
			reading, _ := parseFloat(match[1])
			record := newRecord(metric.CategoryThermal, "temperature", name)
			record.AddTag("chip", chip)
			record.AddField(metric.Float("value", reading, metric.UnitCelsius))
			for _, threshold := range sensorsThresholdRe.FindAllStringSubmatch(value, -1) {
				limit, _ := parseFloat(threshold[2])
				if threshold[1] == "crit" {
					record.AddField(metric.Float("upper_threshold_critical", limit, metric.UnitCelsius))
				} else {
					record.AddField(metric.Float("upper_threshold_warning", limit, metric.UnitCelsius))
				}
			}
			records = append(records, record)
			continue
		}
		if match := sensorsFanRe.FindStringSubmatch(value); len(match) == 2 {
			rpm, _ := strconv.ParseInt(match[1], 10, 64)
			record := newRecord(metric.CategoryThermal, "fan", name)
			record.AddTag("chip", chip)
			record.AddField(metric.Int("speed_rpm", rpm, metric.UnitRPM))
			records = append(records, record)
		}
	}
	return records
}

// chipPrefix strips the bus suffix, "coretemp-isa-0000" becomes "coretemp".
func chipPrefix(chip string) string {
	if index := strings.Index(chip, "-"); index > 0 {
		return chip[:index]
	}
	return chip
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
