package source

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs/sysfs"
	"github.com/vinted/ilo-monitor/internal/metric"
)

// SysfsReader reads kernel thermal zones, AC power supplies and RAPL energy
// counters.
type SysfsReader struct {
	logger *slog.Logger
	fs     sysfs.FS
	fsErr  error
}

func NewSysfsReader(logger *slog.Logger, sysPath string) *SysfsReader {
	if sysPath == "" {
		sysPath = sysfs.DefaultMountPoint
	}
	sysFS, err := sysfs.NewFS(sysPath)
	return &SysfsReader{logger: logger, fs: sysFS, fsErr: err}
}

func (r *SysfsReader) Name() string {
	return NameSysfs
}

func (r *SysfsReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryThermal, metric.CategoryPower}
}

func (r *SysfsReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if r.fsErr != nil {
		return nil, unavailable("sysfs: %v", r.fsErr)
	}

	switch category {
	case metric.CategoryThermal:
		return r.readThermalZones()
	case metric.CategoryPower:
		return r.readPower()
	default:
		return nil, unsupportedCategory(r, category)
	}
}

func (r *SysfsReader) readThermalZones() ([]metric.Record, error) {
	zones, err := r.fs.ClassThermalZoneStats()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, unavailable("no thermal class in sysfs")
		}
		return nil, err
	}

	records := make([]metric.Record, 0, len(zones))
	for _, zone := range zones {
		name := zone.Type
		if name == "" {
			name = "zone " + zone.Name
		}
		record := newRecord(metric.CategoryThermal, "temperature", name)
		record.AddTag("zone", zone.Name)
		record.AddTag("policy", zone.Policy)
		record.AddField(metric.Float("value", float64(zone.Temp)/1000, metric.UnitCelsius))
		records = append(records, record)
	}
	return records, nil
}

func (r *SysfsReader) readPower() ([]metric.Record, error) {
	supplies, supplyErr := r.fs.PowerSupplyClass()
	if supplyErr != nil {
		r.logger.Debug("Reading power_supply class failed", "error", supplyErr)
	}
	zones, raplErr := sysfs.GetRaplZones(r.fs)
	if raplErr != nil {
		r.logger.Debug("Reading powercap class failed", "error", raplErr)
	}
	if supplyErr != nil && raplErr != nil {
		return nil, unavailable("no power_supply or powercap class in sysfs")
	}

	var records []metric.Record
	for _, name := range sortedKeys(supplies) {
		supply := supplies[name]
		if supply.Type != "Mains" && supply.Type != "UPS" {
			continue
		}
		if supply.Online == nil {
			continue
		}

		online := *supply.Online == 1
		record := newRecord(metric.CategoryPower, "power_supply", name)
		record.AddTag("type", supply.Type)
		record.AddField(metric.Bool("online", online))
		if online {
			record.AddCondition("status", "OK")
		} else {
			record.AddCondition("status", "Critical")
		}
		records = append(records, record)
	}

	var total uint64
	domains := 0
	for _, zone := range zones {
		// Subzones such as intel-rapl:0:0 are already included in their
		// parent package counter.
		if strings.Count(filepath.Base(zone.Path), ":") != 1 {
			continue
		}
		energy, err := zone.GetEnergyMicrojoules()
		if err != nil {
			r.logger.Debug("Reading RAPL energy failed", "zone", zone.Name, "error", err)
			continue
		}
		total += energy
		domains++
	}
	if domains > 0 {
		record := newRecord(metric.CategoryPower, "energy", "consumption")
		record.AddField(metric.Int("total_energy_uj", int64(total), metric.UnitMicrojoules))
		record.AddField(metric.Int("rapl_domains", int64(domains), metric.UnitCount))
		records = append(records, record)
	}

	return records, nil
}
