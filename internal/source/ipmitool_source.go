package source

import (
	"bufio"
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

var (
	ipmiTemperatureRe = regexp.MustCompile(`([+-]?\d+(?:\.\d+)?)\s*degrees C`)
	ipmiRPMRe         = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*RPM`)
	ipmiPercentRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:percent|%)`)
	ipmiWattsRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*Watts`)
	digitsRe          = regexp.MustCompile(`\d+`)
)

// IPMIToolReader reads sensors, chassis state and the event log through
// ipmitool.
type IPMIToolReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewIPMIToolReader(logger *slog.Logger, runner command.Runner) *IPMIToolReader {
	return &IPMIToolReader{logger: logger, runner: runner}
}

func (r *IPMIToolReader) Name() string {
	return NameIPMITool
}

func (r *IPMIToolReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryHealth, metric.CategoryThermal, metric.CategoryPower, metric.CategoryMemory}
}

func (r *IPMIToolReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	switch category {
	case metric.CategoryHealth:
		return r.readHealth(ctx)
	case metric.CategoryThermal:
		return r.readThermal(ctx)
	case metric.CategoryPower:
		return r.readPower(ctx)
	case metric.CategoryMemory:
		return r.readMemory(ctx)
	default:
		return nil, unsupportedCategory(r, category)
	}
}

func (r *IPMIToolReader) run(ctx context.Context, args ...string) (string, error) {
	return runTool(ctx, r.runner, r.logger, "ipmitool", args...)
}

func (r *IPMIToolReader) readHealth(ctx context.Context) ([]metric.Record, error) {
	chassisOutput, chassisErr := r.run(ctx, "chassis", "status")
	selOutput, selErr := r.run(ctx, "sel", "elist", "last", "10")
	if chassisErr != nil && selErr != nil {
		return nil, chassisErr
	}

	record := newRecord(metric.CategoryHealth, "system_health_ipmi", "")
	if chassisErr == nil {
		parseChassisStatus(chassisOutput, &record)
	}
	if selErr == nil {
		errorCount, warningCount := countSELEvents(selOutput)
		record.AddField(metric.Int("recent_errors", int64(errorCount), metric.UnitCount))
		record.AddField(metric.Int("recent_warnings", int64(warningCount), metric.UnitCount))
		record.AddCondition("ipmi_health", selHealth(errorCount, warningCount))
	}

	return []metric.Record{record}, nil
}

func (r *IPMIToolReader) readThermal(ctx context.Context) ([]metric.Record, error) {
	temperatureOutput, temperatureErr := r.run(ctx, "sdr", "type", "temperature")
	fanOutput, fanErr := r.run(ctx, "sdr", "type", "fan")
	if temperatureErr != nil && fanErr != nil {
		return nil, temperatureErr
	}

	var records []metric.Record
	if temperatureErr == nil {
		records = append(records, parseIPMITemperatures(r.logger, temperatureOutput)...)
	}
	if fanErr == nil {
		records = append(records, parseIPMIFans(r.logger, fanOutput)...)
	}
	return records, nil
}

func (r *IPMIToolReader) readPower(ctx context.Context) ([]metric.Record, error) {
	supplyOutput, supplyErr := r.run(ctx, "sdr", "type", "Power Supply")
	readingOutput, readingErr := r.run(ctx, "dcmi", "power", "reading")
	if supplyErr != nil && readingErr != nil {
		return nil, supplyErr
	}

	var records []metric.Record
	if supplyErr == nil {
		records = append(records, parseIPMIPowerSupplies(r.logger, supplyOutput)...)
	}
	if readingErr == nil {
		if record, ok := parseDCMIPowerReading(readingOutput); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (r *IPMIToolReader) readMemory(ctx context.Context) ([]metric.Record, error) {
	output, err := r.run(ctx, "sel", "elist")
	if err != nil {
		return nil, err
	}

	record, ok := parseMemorySEL(output)
	if !ok {
		return nil, nil
	}
	return []metric.Record{record}, nil
}

type sdrRow struct {
	name    string
	status  string
	reading string
}

// parseSDRRows accepts both the five column "sdr type" layout and the three
// column "sdr list" layout.
func parseSDRRows(logger *slog.Logger, output string) []sdrRow {
	var rows []sdrRow
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "|") {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case len(parts) >= 5:
			rows = append(rows, sdrRow{name: parts[0], status: parts[2], reading: parts[4]})
		case len(parts) == 3:
			rows = append(rows, sdrRow{name: parts[0], status: parts[2], reading: parts[1]})
		default:
			logger.Debug("Unrecognized ipmitool sdr line", "line", line)
		}
	}
	return rows
}

func parseIPMITemperatures(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	for _, row := range parseSDRRows(logger, output) {
		match := ipmiTemperatureRe.FindStringSubmatch(row.reading)
		if len(match) != 2 {
			logger.Debug("ipmitool temperature sensor without reading", "sensor", row.name, "reading", row.reading)
			continue
		}
		value, ok := parseFloat(match[1])
		if !ok {
			continue
		}

		record := newRecord(metric.CategoryThermal, "temperature", row.name)
		record.AddField(metric.Float("value", value, metric.UnitCelsius))
		record.AddCondition("status", row.status)
		records = append(records, record)
	}
	return records
}

func parseIPMIFans(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	for _, row := range parseSDRRows(logger, output) {
		record := newRecord(metric.CategoryThermal, "fan", row.name)

		if match := ipmiRPMRe.FindStringSubmatch(row.reading); len(match) == 2 {
			value, _ := parseFloat(match[1])
			record.AddField(metric.Int("speed_rpm", int64(value), metric.UnitRPM))
		} else if match := ipmiPercentRe.FindStringSubmatch(row.reading); len(match) == 2 {
			value, _ := parseFloat(match[1])
			record.AddField(metric.Float("speed_percent", value, metric.UnitPercent))
		} else {
			logger.Debug("ipmitool fan sensor without reading", "sensor", row.name, "reading", row.reading)
			continue
		}

		record.AddCondition("status", row.status)
		records = append(records, record)
	}
	return records
}

func parseIPMIPowerSupplies(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	for _, row := range parseSDRRows(logger, output) {
		name := row.name
		if digits := digitsRe.FindString(row.name); digits != "" {
			name = digits
		}

		record := newRecord(metric.CategoryPower, "power_supply", name)
		record.AddTag("name", row.name)
		reading := strings.ToLower(row.reading)
		if strings.Contains(reading, "presence detected") {
			record.AddField(metric.Bool("present", true))
		}
		if strings.Contains(reading, "failure detected") || strings.Contains(reading, "power supply ac lost") {
			record.AddField(metric.Bool("failure_detected", true))
		}
		if match := ipmiWattsRe.FindStringSubmatch(row.reading); len(match) == 2 {
			value, _ := parseFloat(match[1])
			record.AddField(metric.Float("power_output", value, metric.UnitWatts))
		}
		record.AddCondition("status", row.status)
		records = append(records, record)
	}
	return records
}

func parseDCMIPowerReading(output string) (metric.Record, bool) {
	record := newRecord(metric.CategoryPower, "power_consumption", "")
	found := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := splitKeyValue(scanner.Text(), ":")
		if !ok {
			continue
		}

		if key == "Power reading state is" {
			record.AddTag("reading_state", value)
			continue
		}

		match := ipmiWattsRe.FindStringSubmatch(value)
		if len(match) != 2 {
			continue
		}
		watts, _ := parseFloat(match[1])

		switch {
		case strings.HasPrefix(key, "Instantaneous power reading"), strings.HasPrefix(key, "Current Power"):
			record.AddField(metric.Float("current_watts", watts, metric.UnitWatts))
			found = true
		case strings.HasPrefix(key, "Average power reading"), strings.HasPrefix(key, "Average Power"):
			record.AddField(metric.Float("average_watts", watts, metric.UnitWatts))
		case strings.HasPrefix(key, "Maximum during"), strings.HasPrefix(key, "Max Power"):
			record.AddField(metric.Float("max_watts", watts, metric.UnitWatts))
		case strings.HasPrefix(key, "Minimum during"), strings.HasPrefix(key, "Min Power"):
			record.AddField(metric.Float("min_watts", watts, metric.UnitWatts))
		}
	}

	return record, found
}

func parseChassisStatus(output string, record *metric.Record) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := splitKeyValue(scanner.Text(), ":")
		if !ok {
			continue
		}

		switch key {
		case "System Power":
			record.AddTag("ipmi_power_state", value)
		case "Power Overload":
			record.AddField(metric.Bool("power_overload", strings.Contains(strings.ToLower(value), "true")))
		case "Main Power Fault":
			record.AddField(metric.Bool("main_power_fault", strings.Contains(strings.ToLower(value), "true")))
		case "Drive Fault":
			record.AddField(metric.Bool("drive_fault", strings.Contains(strings.ToLower(value), "true")))
		case "Cooling/Fan Fault":
			record.AddField(metric.Bool("cooling_fault", strings.Contains(strings.ToLower(value), "true")))
		}
	}
}

func countSELEvents(output string) (int, int) {
	errorCount, warningCount := 0, 0
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		if !strings.Contains(line, "|") {
			continue
		}
		if containsAny(line, "error", "fail", "critical") {
			errorCount++
		} else if containsAny(line, "warning", "assert") {
			warningCount++
		}
	}
	return errorCount, warningCount
}

func selHealth(errorCount, warningCount int) string {
	switch {
	case errorCount > 0:
		return "Critical"
	case warningCount > 2:
		return "Warning"
	default:
		return "OK"
	}
}

func parseMemorySEL(output string) (metric.Record, bool) {
	errorCount, warningCount := 0, 0
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		if !containsAny(line, "memory", "dimm", "ecc") {
			continue
		}
		if containsAny(line, "error", "fail", "critical", "uncorrectable") {
			errorCount++
		} else if containsAny(line, "warning", "correctable") {
			warningCount++
		}
	}

	if errorCount == 0 && warningCount == 0 {
		return metric.Record{}, false
	}

	record := newRecord(metric.CategoryMemory, "memory_health", "")
	record.AddField(metric.Int("error_count", int64(errorCount), metric.UnitCount))
	record.AddField(metric.Int("warning_count", int64(warningCount), metric.UnitCount))
	if errorCount > 0 {
		record.AddCondition("status", "Critical")
	} else {
		record.AddCondition("status", "Warning")
	}
	return record, true
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
