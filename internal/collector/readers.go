package collector

import (
	"log/slog"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/source"
)

type LocalOptions struct {
	Runner   command.Runner
	ProcPath string
	SysPath  string
	// Hwmon is nil when node_exporter's hwmon collector could not be built.
	Hwmon prometheus.Gatherer
	NVML  nvml.Interface
}

func LocalReaders(logger *slog.Logger, options LocalOptions) []source.Reader {
	readers := []source.Reader{
		source.NewProcReader(logger, options.ProcPath),
		source.NewIPMIToolReader(logger, options.Runner),
		source.NewHPASMCLIReader(logger, options.Runner),
		source.NewSSACLIReader(logger, options.Runner),
		source.NewDMIDecodeReader(logger, options.Runner),
		source.NewSensorsReader(logger, options.Runner),
		source.NewSmartctlReader(logger, options.Runner),
		source.NewSysfsReader(logger, options.SysPath),
		source.NewHwmonReader(logger, options.Hwmon),
	}
	if options.NVML != nil {
		readers = append(readers, source.NewNVMLReader(logger, options.NVML))
	}
	return readers
}

func RemoteReaders(logger *slog.Logger, version string, target source.RemoteTarget) []source.Reader {
	if version == "4" {
		return []source.Reader{source.NewILORestReader(logger, target)}
	}
	return []source.Reader{source.NewRedfishReader(logger, target)}
}
