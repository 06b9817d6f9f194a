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
	ssaControllerRe   = regexp.MustCompile(`^(Smart Array|Smart HBA|HPE Smart Array|HP Smart Array)?\s*(.+?) in Slot (\S+)`)
	ssaPhysicalRe     = regexp.MustCompile(`^physicaldrive\s+(\S+)\s+\((.*)\)\s*$`)
	ssaLogicalRe      = regexp.MustCompile(`^logicaldrive\s+(\d+)\s+\((.*)\)\s*$`)
	ssaCapacityRe     = regexp.MustCompile(`^([\d.]+)\s*(MB|GB|TB)$`)
	ssaDriveProtocols = []string{"SAS", "SATA", "NVMe"}
)

// SSACLIReader reads Smart Array controllers through ssacli, falling back to
// the older hpssacli binary.
type SSACLIReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewSSACLIReader(logger *slog.Logger, runner command.Runner) *SSACLIReader {
	return &SSACLIReader{logger: logger, runner: runner}
}

func (r *SSACLIReader) Name() string {
	return NameSSACLI
}

func (r *SSACLIReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryStorage}
}

func (r *SSACLIReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryStorage {
		return nil, unsupportedCategory(r, category)
	}

	tool := "ssacli"
	if !r.runner.Available(tool) {
		tool = "hpssacli"
	}

	output, err := runTool(ctx, r.runner, r.logger, tool, "ctrl", "all", "show", "config")
	if err != nil {
		return nil, err
	}

	return parseSSAConfig(r.logger, output), nil
}

func parseSSAConfig(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	slot := ""

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if match := ssaControllerRe.FindStringSubmatch(line); match != nil && !strings.HasPrefix(line, "physicaldrive") && !strings.HasPrefix(line, "logicaldrive") {
			slot = match[3]
			continue
		}

		if match := ssaPhysicalRe.FindStringSubmatch(line); match != nil {
			records = append(records, parseSSAPhysicalDrive(match[1], match[2], slot))
			continue
		}

		if match := ssaLogicalRe.FindStringSubmatch(line); match != nil {
			records = append(records, parseSSALogicalDrive(match[1], match[2], slot))
			continue
		}

		if strings.HasPrefix(line, "physicaldrive") || strings.HasPrefix(line, "logicaldrive") {
			logger.Debug("Unrecognized ssacli drive line", "line", line)
		}
	}
	return records
}

// parseSSAPhysicalDrive handles the parenthesised attribute list, e.g.
// "port 1I:box 1:bay 1, SAS HDD, 600 GB, OK". The status is always last.
func parseSSAPhysicalDrive(id, attributes, slot string) metric.Record {
	record := newRecord(metric.CategoryStorage, "drive", id)
	record.AddTag("controller_slot", slot)

	parts := splitAttributes(attributes)
	if len(parts) > 0 {
		record.AddCondition("status", parts[len(parts)-1])
	}

	for _, part := range parts {
		if capacity, ok := parseCapacityGB(part); ok {
			record.AddField(metric.Float("capacity_gb", capacity, metric.UnitGigabytes))
			continue
		}
		for _, protocol := range ssaDriveProtocols {
			if strings.HasPrefix(part, protocol+" ") {
				record.AddTag("protocol", protocol)
				record.AddTag("media_type", strings.TrimSpace(strings.TrimPrefix(part, protocol)))
			}
		}
	}

	return record
}

// parseSSALogicalDrive handles "558.9 GB, RAID 1, OK".
func parseSSALogicalDrive(id, attributes, slot string) metric.Record {
	record := newRecord(metric.CategoryStorage, "logical_drive", id)
	record.AddTag("controller_slot", slot)

	parts := splitAttributes(attributes)
	if len(parts) > 0 {
		record.AddCondition("status", parts[len(parts)-1])
	}

	for _, part := range parts {
		if capacity, ok := parseCapacityGB(part); ok {
			record.AddField(metric.Float("capacity_gb", capacity, metric.UnitGigabytes))
		} else if strings.HasPrefix(part, "RAID") {
			record.AddTag("raid", part)
		}
	}

	return record
}

func splitAttributes(attributes string) []string {
	var parts []string
	for _, part := range strings.Split(attributes, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func parseCapacityGB(value string) (float64, bool) {
	match := ssaCapacityRe.FindStringSubmatch(strings.TrimSpace(value))
	if len(match) != 3 {
		return 0, false
	}
	size, ok := parseFloat(match[1])
	if !ok {
		return 0, false
	}

	switch match[2] {
	case "MB":
		return size / 1024, true
	case "TB":
		return size * 1024, true
	default:
		return size, true
	}
}
