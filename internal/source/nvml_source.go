package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/vinted/ilo-monitor/internal/metric"
)

// NVMLReader reads NVIDIA GPU temperature, fan and power telemetry. The
// library is initialised for every read and shut down afterwards.
type NVMLReader struct {
	logger *slog.Logger
	lib    nvml.Interface
}

func NewNVMLReader(logger *slog.Logger, lib nvml.Interface) *NVMLReader {
	return &NVMLReader{logger: logger, lib: lib}
}

func (r *NVMLReader) Name() string {
	return NameNVML
}

func (r *NVMLReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryThermal, metric.CategoryPower}
}

func (r *NVMLReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryThermal && category != metric.CategoryPower {
		return nil, unsupportedCategory(r, category)
	}

	if ret := r.lib.Init(); ret != nvml.SUCCESS {
		return nil, unavailable("nvml init: %v", ret)
	}
	defer func() {
		if ret := r.lib.Shutdown(); ret != nvml.SUCCESS {
			r.logger.Debug("NVML shutdown failed", "error", ret)
		}
	}()

	count, ret := r.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %v", ret)
	}

	var records []metric.Record
	for index := 0; index < count; index++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		device, ret := r.lib.DeviceGetHandleByIndex(index)
		if ret != nvml.SUCCESS {
			r.logger.Warn("Skipping GPU", "index", index, "error", ret)
			continue
		}

		if category == metric.CategoryThermal {
			records = append(records, r.thermalRecords(index, device)...)
		} else {
			records = append(records, r.powerRecords(index, device)...)
		}
	}
	return records, nil
}

func (r *NVMLReader) thermalRecords(index int, device nvml.Device) []metric.Record {
	var records []metric.Record
	name := "GPU " + strconv.Itoa(index)
	model, _ := device.GetName()

	if temperature, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		record := newRecord(metric.CategoryThermal, "temperature", name)
		record.AddTag("model", model)
		record.AddField(metric.Float("value", float64(temperature), metric.UnitCelsius))
		if slowdown, ret := device.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SLOWDOWN); ret == nvml.SUCCESS {
			record.AddField(metric.Float("upper_threshold_warning", float64(slowdown), metric.UnitCelsius))
		}
		if shutdown, ret := device.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SHUTDOWN); ret == nvml.SUCCESS {
			record.AddField(metric.Float("upper_threshold_critical", float64(shutdown), metric.UnitCelsius))
		}
		records = append(records, record)
	} else {
		r.logger.Debug("GPU temperature not available", "index", index, "error", ret)
	}

	// Passively cooled boards report NOT_SUPPORTED.
	if speed, ret := device.GetFanSpeed(); ret == nvml.SUCCESS {
		record := newRecord(metric.CategoryThermal, "fan", name)
		record.AddTag("model", model)
		record.AddField(metric.Float("speed_percent", float64(speed), metric.UnitPercent))
		records = append(records, record)
	}

	return records
}

func (r *NVMLReader) powerRecords(index int, device nvml.Device) []metric.Record {
	usage, ret := device.GetPowerUsage()
	if ret != nvml.SUCCESS {
		r.logger.Debug("GPU power usage not available", "index", index, "error", ret)
		return nil
	}

	record := newRecord(metric.CategoryPower, "gpu_power", strconv.Itoa(index))
	if model, ret := device.GetName(); ret == nvml.SUCCESS {
		record.AddTag("model", model)
	}
	record.AddField(metric.Float("current_watts", float64(usage)/1000, metric.UnitWatts))
	if limit, ret := device.GetEnforcedPowerLimit(); ret == nvml.SUCCESS {
		record.AddField(metric.Float("limit_watts", float64(limit)/1000, metric.UnitWatts))
	}
	return []metric.Record{record}
}
