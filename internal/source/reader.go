package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

// ErrSourceUnavailable is returned when a backend cannot be reached, is not
// installed, or does not serve the requested category.
var ErrSourceUnavailable = errors.New("source unavailable")

const (
	NameRedfish   = "redfish"
	NameILORest   = "ilorest"
	NameProc      = "proc"
	NameIPMITool  = "ipmitool"
	NameHPASMCLI  = "hpasmcli"
	NameSSACLI    = "ssacli"
	NameDMIDecode = "dmidecode"
	NameSensors   = "sensors"
	NameSmartctl  = "smartctl"
	NameSysfs     = "sysfs"
	NameHwmon     = "hwmon"
	NameNVML      = "nvml"
)

// LocalNames lists every reader that inspects the host it runs on.
var LocalNames = []string{
	NameProc,
	NameIPMITool,
	NameHPASMCLI,
	NameSSACLI,
	NameDMIDecode,
	NameSensors,
	NameSmartctl,
	NameSysfs,
	NameHwmon,
	NameNVML,
}

// Reader produces records for one hardware category from one backend.
// Absent hardware yields no records; an unreachable backend yields an error
// wrapping ErrSourceUnavailable.
type Reader interface {
	Name() string
	Categories() []metric.Category
	Read(ctx context.Context, category metric.Category) ([]metric.Record, error)
}

func KnownName(name string) bool {
	if name == NameRedfish || name == NameILORest {
		return true
	}
	for _, local := range LocalNames {
		if local == name {
			return true
		}
	}
	return false
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSourceUnavailable, fmt.Sprintf(format, args...))
}

func unsupportedCategory(reader Reader, category metric.Category) error {
	return unavailable("%s does not report %s", reader.Name(), category)
}

func newRecord(category metric.Category, kind, name string) metric.Record {
	return metric.Record{Kind: kind, Name: strings.TrimSpace(name), Category: category}
}

// runTool runs a diagnostic tool and folds every way it can fail to run into
// ErrSourceUnavailable.
func runTool(ctx context.Context, runner command.Runner, logger *slog.Logger, name string, args ...string) (string, error) {
	if !runner.Available(name) {
		return "", unavailable("%s not installed", name)
	}

	result, err := runner.Run(ctx, name, args...)
	if err != nil {
		logger.Debug("Command source unavailable", "command", name, "args", strings.Join(args, " "), "error", err)
		return "", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	return result.Stdout, nil
}

func readSingleLineFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(content)), nil
}

// cleanValue trims quotes and whitespace and treats placeholder values such
// as "N/A" as empty.
func cleanValue(value string) string {
	trimmed := strings.TrimSpace(strings.Trim(value, "'\""))
	if trimmed == "" {
		return ""
	}

	switch strings.ToLower(trimmed) {
	case "n/a", "na", "null", "not specified", "unknown":
		return ""
	}

	return trimmed
}

func parseFloat(value string) (float64, bool) {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func splitKeyValue(line, separator string) (string, string, bool) {
	parts := strings.SplitN(line, separator, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}
