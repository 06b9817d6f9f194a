package source

import (
	"bufio"
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

var (
	dmiSizeRe  = regexp.MustCompile(`^(\d+)\s*(kB|KB|MB|GB|TB)$`)
	dmiSpeedRe = regexp.MustCompile(`^(\d+)\s*(MT/s|MHz)`)
)

// DMIDecodeReader reports populated memory slots from the SMBIOS tables.
type DMIDecodeReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewDMIDecodeReader(logger *slog.Logger, runner command.Runner) *DMIDecodeReader {
	return &DMIDecodeReader{logger: logger, runner: runner}
}

func (r *DMIDecodeReader) Name() string {
	return NameDMIDecode
}

func (r *DMIDecodeReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryMemory}
}

func (r *DMIDecodeReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryMemory {
		return nil, unsupportedCategory(r, category)
	}

	output, err := runTool(ctx, r.runner, r.logger, "dmidecode", "-t", "memory")
	if err != nil {
		return nil, err
	}

	return parseDMIMemory(r.logger, output), nil
}

type dmiMemoryDevice struct {
	locator      string
	sizeMB       int64
	speedMHz     int64
	manufacturer string
	memoryType   string
}

func parseDMIMemory(logger *slog.Logger, output string) []metric.Record {
	var records []metric.Record
	var current *dmiMemoryDevice

	flush := func() {
		if current == nil {
			return
		}
		if current.locator != "" && current.sizeMB > 0 {
			record := newRecord(metric.CategoryMemory, "memory", current.locator)
			record.AddField(metric.Int("size_mb", current.sizeMB, metric.UnitMegabytes))
			if current.speedMHz > 0 {
				record.AddField(metric.Int("speed_mhz", current.speedMHz, metric.UnitMegahertz))
			}
			record.AddTag("manufacturer", current.manufacturer)
			record.AddTag("type", current.memoryType)
			// SMBIOS carries no health, a populated slot is reported as OK.
			record.AddCondition("status", "OK")
			records = append(records, record)
		} else {
			logger.Debug("Skipping empty memory slot", "locator", current.locator)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "Memory Device":
			flush()
			current = &dmiMemoryDevice{}
			continue
		case line == "", strings.HasPrefix(line, "Handle "):
			flush()
			continue
		case current == nil:
			continue
		}

		key, value, ok := splitKeyValue(line, ":")
		if !ok {
			continue
		}

		switch key {
		case "Locator":
			current.locator = cleanValue(value)
		case "Size":
			current.sizeMB = parseDMISize(value)
		case "Speed":
			if match := dmiSpeedRe.FindStringSubmatch(value); len(match) == 3 {
				current.speedMHz, _ = strconv.ParseInt(match[1], 10, 64)
			}
		case "Manufacturer":
			current.manufacturer = cleanValue(value)
		case "Type":
			current.memoryType = cleanValue(value)
		}
	}
	flush()

	return records
}

// parseDMISize returns the module size in MB, or 0 for empty slots.
func parseDMISize(value string) int64 {
	match := dmiSizeRe.FindStringSubmatch(strings.TrimSpace(value))
	if len(match) != 3 {
		return 0
	}

	size, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0
	}

	switch match[2] {
	case "kB", "KB":
		return size / 1024
	case "GB":
		return size * 1024
	case "TB":
		return size * 1024 * 1024
	default:
		return size
	}
}
