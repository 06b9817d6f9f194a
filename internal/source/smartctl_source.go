package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

// smartctl exit status bits 0 and 1 mean the command line could not be parsed
// or the device could not be opened. Higher bits describe the drive and still
// come with a full JSON document.
const smartctlFatalExitBits = 0x3

type smartctlScan struct {
	Devices []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Protocol string `json:"protocol"`
	} `json:"devices"`
}

type smartctlDevice struct {
	Device struct {
		Name     string `json:"name"`
		Protocol string `json:"protocol"`
	} `json:"device"`
	ModelName    string `json:"model_name"`
	SerialNumber string `json:"serial_number"`
	UserCapacity struct {
		Bytes int64 `json:"bytes"`
	} `json:"user_capacity"`
	NVMeCapacity int64 `json:"nvme_total_capacity"`
	RotationRate *int  `json:"rotation_rate"`
	SmartStatus  *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature *struct {
		Current float64 `json:"current"`
	} `json:"temperature"`
	PowerOnTime *struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
}

// SmartctlReader reports SMART health for every device smartctl can find.
type SmartctlReader struct {
	logger *slog.Logger
	runner command.Runner
}

func NewSmartctlReader(logger *slog.Logger, runner command.Runner) *SmartctlReader {
	return &SmartctlReader{logger: logger, runner: runner}
}

func (r *SmartctlReader) Name() string {
	return NameSmartctl
}

func (r *SmartctlReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryStorage}
}

func (r *SmartctlReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	if category != metric.CategoryStorage {
		return nil, unsupportedCategory(r, category)
	}

	output, err := runTool(ctx, r.runner, r.logger, "smartctl", "--scan", "-j")
	if err != nil {
		return nil, err
	}

	var scan smartctlScan
	if err := json.Unmarshal([]byte(output), &scan); err != nil {
		return nil, fmt.Errorf("decoding smartctl scan: %w", err)
	}

	var records []metric.Record
	for _, device := range scan.Devices {
		record, err := r.readDevice(ctx, device.Name, device.Type)
		if err != nil {
			r.logger.Warn("Skipping SMART device", "device", device.Name, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *SmartctlReader) readDevice(ctx context.Context, name, deviceType string) (metric.Record, error) {
	result, err := r.runner.Run(ctx, "smartctl", "-H", "-A", "-i", "-j", "-d", deviceType, name)
	if err != nil {
		var exitErr *command.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code&smartctlFatalExitBits != 0 {
			return metric.Record{}, err
		}
	}

	var device smartctlDevice
	if err := json.Unmarshal([]byte(result.Stdout), &device); err != nil {
		return metric.Record{}, fmt.Errorf("decoding smartctl output: %w", err)
	}

	return smartctlRecord(name, device), nil
}

func smartctlRecord(name string, device smartctlDevice) metric.Record {
	record := newRecord(metric.CategoryStorage, "drive", path.Base(name))
	record.AddTag("device", name)
	record.AddTag("model", device.ModelName)
	record.AddTag("serial", device.SerialNumber)
	record.AddTag("protocol", device.Device.Protocol)

	switch {
	case device.Device.Protocol == "NVMe":
		record.AddTag("media_type", "SSD")
	case device.RotationRate != nil && *device.RotationRate == 0:
		record.AddTag("media_type", "SSD")
	case device.RotationRate != nil:
		record.AddTag("media_type", "HDD")
	}

	capacity := device.UserCapacity.Bytes
	if capacity == 0 {
		capacity = device.NVMeCapacity
	}
	if capacity > 0 {
		record.AddField(metric.Float("capacity_gb", float64(capacity)/1e9, metric.UnitGigabytes))
	}
	if device.Temperature != nil {
		record.AddField(metric.Float("temperature_celsius", device.Temperature.Current, metric.UnitCelsius))
	}
	if device.PowerOnTime != nil {
		record.AddField(metric.Int("power_on_hours", device.PowerOnTime.Hours, metric.UnitHours))
	}
	if device.SmartStatus != nil {
		record.AddField(metric.Bool("smart_passed", device.SmartStatus.Passed))
		if device.SmartStatus.Passed {
			record.AddCondition("status", "PASSED")
		} else {
			record.AddCondition("status", "FAILED")
		}
	}

	return record
}
