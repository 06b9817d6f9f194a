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
	hpTemperatureRe  = regexp.MustCompile(`^#(\d+)\s+(\S+)\s+(-|\d+C/\d+F)\s+(-|\d+C/\d+F)`)
	hpCelsiusRe      = regexp.MustCompile(`^(\d+)C/`)
	hpFanRe          = regexp.MustCompile(`^#(\d+)\s+(\S+)\s+(Yes|No)\s+(\S+)\s+(\S+)\s+(\S+)`)
	hpPercentRe      = regexp.MustCompile(`^(\d+)%$`)
	hpPowerSupplyRe  = regexp.MustCompile(`^Power supply #(\d+)`)
	hpPowerReadingRe = regexp.MustCompile(`(\d+)\s*Watts`)
)

// HPASMCLIReader reads the HP Agentless Management CLI.
type HPASMCLIReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewHPASMCLIReader(logger *slog.Logger, runner command.Runner) *HPASMCLIReader {
	return &HPASMCLIReader{logger: logger, runner: runner}
}

func (r *HPASMCLIReader) Name() string {
	return NameHPASMCLI
}

func (r *HPASMCLIReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryThermal, metric.CategoryPower}
}

func (r *HPASMCLIReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	switch category {
	case metric.CategoryThermal:
		temperatureOutput, temperatureErr := runTool(ctx, r.runner, r.logger, "hpasmcli", "-s", "show temp")
		fanOutput, fanErr := runTool(ctx, r.runner, r.logger, "hpasmcli", "-s", "show fans")
		if temperatureErr != nil && fanErr != nil {
			return nil, temperatureErr
		}

		var records []metric.Record
		if temperatureErr == nil {
			records = append(records, parseHPTemperatures(r.logger, temperatureOutput)...)
		}
		if fanErr == nil {
			records = append(records, parseHPFans(r.logger, fanOutput)...)
		}
		return records, nil
	case metric.CategoryPower:
		output, err := runTool(ctx, r.runner, r.logger, "hpasmcli", "-s", "show powersupply")
		if err != nil {
			return nil, err
		}
		return parseHPPowerSupplies(r.logger, output), nil
	default:
		return nil, unsupportedCategory(r, category)
	}
}

func parseHPTemperatures(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}

		match := hpTemperatureRe.FindStringSubmatch(line)
		if match == nil {
			logger.Debug("Unrecognized hpasmcli temperature line", "line", line)
			continue
		}
		if match[3] == "-" {
			continue
		}

		record := newRecord(metric.CategoryThermal, "temperature", match[2])
		record.AddTag("sensor", match[1])
		if value, ok := celsius(match[3]); ok {
			record.AddField(metric.Float("value", value, metric.UnitCelsius))
		}
		if threshold, ok := celsius(match[4]); ok {
			record.AddField(metric.Float("upper_threshold_critical", threshold, metric.UnitCelsius))
		}
		records = append(records, record)
	}
	return records
}

func parseHPFans(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#") {
			continue
		}

		match := hpFanRe.FindStringSubmatch(line)
		if match == nil {
			logger.Debug("Unrecognized hpasmcli fan line", "line", line)
			continue
		}
		if match[3] != "Yes" {
			continue
		}

		record := newRecord(metric.CategoryThermal, "fan", "Fan "+match[1])
		record.AddTag("location", match[2])
		if percent := hpPercentRe.FindStringSubmatch(match[5]); len(percent) == 2 {
			value, _ := parseFloat(percent[1])
			record.AddField(metric.Float("speed_percent", value, metric.UnitPercent))
		}
		record.AddField(metric.Bool("redundant", match[6] == "Yes"))
		record.AddCondition("status", match[4])
		records = append(records, record)
	}
	return records
}

func parseHPPowerSupplies(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	var current *metric.Record
	present := false

	flush := func() {
		if current != nil && present {
			records = append(records, *current)
		}
		current = nil
		present = false
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if match := hpPowerSupplyRe.FindStringSubmatch(line); len(match) == 2 {
			flush()
			record := newRecord(metric.CategoryPower, "power_supply", match[1])
			current = &record
			continue
		}
		if current == nil || line == "" {
			continue
		}

		key, value, ok := splitKeyValue(line, ":")
		if !ok {
			logger.Debug("Unrecognized hpasmcli power supply line", "line", line)
			continue
		}

		switch key {
		case "Present":
			present = value == "Yes"
			current.AddField(metric.Bool("present", present))
		case "Redundant":
			current.AddField(metric.Bool("redundant", value == "Yes"))
		case "Condition":
			current.AddCondition("status", value)
		case "Hotplug":
			current.AddTag("hotplug", value)
		case "Power":
			if match := hpPowerReadingRe.FindStringSubmatch(value); len(match) == 2 {
				watts, _ := parseFloat(match[1])
				current.AddField(metric.Float("power_output", watts, metric.UnitWatts))
			}
		}
	}
	flush()

	return records
}

func celsius(value string) (float64, bool) {
	match := hpCelsiusRe.FindStringSubmatch(value)
	if len(match) != 2 {
		return 0, false
	}
	return parseFloat(match[1])
}
