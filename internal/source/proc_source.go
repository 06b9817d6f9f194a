package source

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"github.com/vinted/ilo-monitor/internal/metric"
)

// ProcReader reports uptime, load and memory usage of the local host.
type ProcReader struct {
	logger   *slog.Logger
	procPath string
}

func NewProcReader(logger *slog.Logger, procPath string) *ProcReader {
	if procPath == "" {
		procPath = procfs.DefaultMountPoint
	}
	return &ProcReader{logger: logger, procPath: procPath}
}

func (r *ProcReader) Name() string {
	return NameProc
}

func (r *ProcReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryHealth, metric.CategoryMemory}
}

func (r *ProcReader) Read(_ context.Context, category metric.Category) ([]metric.Record, error) {
	fs, err := procfs.NewFS(r.procPath)
	if err != nil {
		return nil, unavailable("procfs at %s: %v", r.procPath, err)
	}

	switch category {
	case metric.CategoryHealth:
		return r.readHealth(fs)
	case metric.CategoryMemory:
		return r.readMemory(fs)
	default:
		return nil, unsupportedCategory(r, category)
	}
}

func (r *ProcReader) readHealth(fs procfs.FS) ([]metric.Record, error) {
	record := newRecord(metric.CategoryHealth, "system_health", "")
	found := false

	uptimePath := filepath.Join(r.procPath, "uptime")
	if uptimeRaw, err := readSingleLineFile(uptimePath); err != nil {
		r.logger.Debug("Uptime file unavailable", "path", uptimePath, "error", err)
	} else if uptime, ok := parseUptime(uptimeRaw); ok {
		record.AddField(metric.Float("uptime_seconds", uptime, metric.UnitSeconds))
		found = true
	} else {
		r.logger.Debug("Uptime parse failed", "value", uptimeRaw)
	}

	if load, err := fs.LoadAvg(); err != nil {
		r.logger.Debug("Load average unavailable", "error", err)
	} else {
		record.AddField(metric.Float("load_1min", load.Load1, metric.UnitNone))
		record.AddField(metric.Float("load_5min", load.Load5, metric.UnitNone))
		record.AddField(metric.Float("load_15min", load.Load15, metric.UnitNone))
		found = true
	}

	if !found {
		return nil, unavailable("no uptime or load average under %s", r.procPath)
	}

	// A host that can answer is running.
	record.AddCondition("state", "Enabled")
	record.AddCondition("health", "OK")
	record.AddCondition("power_state", "On")

	return []metric.Record{record}, nil
}

func (r *ProcReader) readMemory(fs procfs.FS) ([]metric.Record, error) {
	meminfo, err := fs.Meminfo()
	if err != nil {
		return nil, unavailable("meminfo: %v", err)
	}
	if meminfo.MemTotal == nil {
		r.logger.Debug("Meminfo has no MemTotal")
		return nil, nil
	}

	totalKB := *meminfo.MemTotal
	freeKB := valueOrZero(meminfo.MemFree)
	availableKB := freeKB
	if meminfo.MemAvailable != nil {
		availableKB = *meminfo.MemAvailable
	}
	usedKB := uint64(0)
	if totalKB > availableKB {
		usedKB = totalKB - availableKB
	}

	record := newRecord(metric.CategoryMemory, "memory_usage", "")
	record.AddField(metric.Int("total_mb", int64(totalKB/1024), metric.UnitMegabytes))
	record.AddField(metric.Int("used_mb", int64(usedKB/1024), metric.UnitMegabytes))
	record.AddField(metric.Int("free_mb", int64(freeKB/1024), metric.UnitMegabytes))
	record.AddField(metric.Int("available_mb", int64(availableKB/1024), metric.UnitMegabytes))
	record.AddField(metric.Int("buffers_mb", int64(valueOrZero(meminfo.Buffers)/1024), metric.UnitMegabytes))
	record.AddField(metric.Int("cached_mb", int64(valueOrZero(meminfo.Cached)/1024), metric.UnitMegabytes))

	usage := 0.0
	if totalKB > 0 {
		usage = float64(usedKB) / float64(totalKB) * 100
	}
	record.AddField(metric.Float("usage_percent", usage, metric.UnitPercent))

	return []metric.Record{record}, nil
}

func parseUptime(raw string) (float64, bool) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return 0, false
	}

	uptime, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || uptime < 0 {
		return 0, false
	}
	return uptime, true
}

func valueOrZero(value *uint64) uint64 {
	if value == nil {
		return 0
	}
	return *value
}
