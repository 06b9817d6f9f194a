package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stmcginnis/gofish"
	"github.com/stmcginnis/gofish/common"
	"github.com/stmcginnis/gofish/redfish"
	"github.com/vinted/ilo-monitor/internal/metric"
)

const redfishSystemsPath = "/redfish/v1/Systems/"

type redfishStatus struct {
	Health string `json:"Health"`
	State  string `json:"State"`
}

type redfishLink struct {
	ODataID string `json:"@odata.id"`
}

type redfishChassisLinks struct {
	Thermal redfishLink `json:"Thermal"`
	Power   redfishLink `json:"Power"`
}

// Thermal and Power are decoded with pointer fields, gofish turns a reading
// the firmware leaves out into 0.
type redfishThermal struct {
	Temperatures []struct {
		Name                   string        `json:"Name"`
		PhysicalContext        string        `json:"PhysicalContext"`
		ReadingCelsius         *float64      `json:"ReadingCelsius"`
		UpperThresholdCritical *float64      `json:"UpperThresholdCritical"`
		LowerThresholdCritical *float64      `json:"LowerThresholdCritical"`
		Status                 redfishStatus `json:"Status"`
	} `json:"Temperatures"`
	Fans []struct {
		Name         string        `json:"Name"`
		FanName      string        `json:"FanName"`
		Reading      *float64      `json:"Reading"`
		ReadingUnits string        `json:"ReadingUnits"`
		Status       redfishStatus `json:"Status"`
	} `json:"Fans"`
}

type redfishPower struct {
	PowerControl []struct {
		PowerConsumedWatts *float64 `json:"PowerConsumedWatts"`
		PowerCapacityWatts *float64 `json:"PowerCapacityWatts"`
		PowerMetrics       *struct {
			AverageConsumedWatts *float64 `json:"AverageConsumedWatts"`
		} `json:"PowerMetrics"`
	} `json:"PowerControl"`
	PowerSupplies []struct {
		Model                string        `json:"Model"`
		PowerCapacityWatts   *float64      `json:"PowerCapacityWatts"`
		LastPowerOutputWatts *float64      `json:"LastPowerOutputWatts"`
		Status               redfishStatus `json:"Status"`
	} `json:"PowerSupplies"`
}

// RedfishReader reads an iLO5 (or any Redfish) service through gofish.
type RedfishReader struct {
	logger *slog.Logger
	target RemoteTarget
}

func NewRedfishReader(logger *slog.Logger, target RemoteTarget) *RedfishReader {
	return &RedfishReader{logger: logger, target: target}
}

func (r *RedfishReader) Name() string {
	return NameRedfish
}

func (r *RedfishReader) Categories() []metric.Category {
	return metric.Categories
}

func (r *RedfishReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	client, err := gofish.ConnectContext(ctx, gofish.ClientConfig{
		Endpoint:   r.target.Endpoint,
		Username:   r.target.Username,
		Password:   r.target.Password,
		Insecure:   !r.target.VerifySSL,
		BasicAuth:  true,
		HTTPClient: r.target.httpClient(),
	})
	if err != nil {
		return nil, unavailable("connecting to %s: %v", r.target.Endpoint, err)
	}
	defer client.Logout()

	// The service root is served without authentication, so credentials are
	// first checked here.
	if err := checkRedfishAccess(client); err != nil {
		return nil, err
	}

	switch category {
	case metric.CategoryHealth:
		return r.readHealth(client)
	case metric.CategoryThermal:
		return r.readThermal(client)
	case metric.CategoryPower:
		return r.readPower(client)
	case metric.CategoryMemory:
		return r.readMemory(client)
	case metric.CategoryStorage:
		return r.readStorage(client)
	default:
		return nil, unsupportedCategory(r, category)
	}
}

func (r *RedfishReader) system(client *gofish.APIClient) (*redfish.ComputerSystem, error) {
	systems, err := client.Service.Systems()
	if err != nil {
		return nil, fmt.Errorf("listing systems: %w", classifyRedfishError(err))
	}
	if len(systems) == 0 {
		return nil, unavailable("no computer system exposed")
	}
	return systems[0], nil
}

// chassisLinks returns the Thermal and Power links of the first chassis.
func (r *RedfishReader) chassisLinks(client *gofish.APIClient) (redfishChassisLinks, error) {
	var links redfishChassisLinks
	chassis, err := client.Service.Chassis()
	if err != nil {
		return links, fmt.Errorf("listing chassis: %w", classifyRedfishError(err))
	}
	if len(chassis) == 0 {
		return links, unavailable("no chassis exposed")
	}
	if err := getRedfishJSON(client, chassis[0].ODataID, &links); err != nil {
		return links, fmt.Errorf("reading chassis: %w", err)
	}
	return links, nil
}

func (r *RedfishReader) readHealth(client *gofish.APIClient) ([]metric.Record, error) {
	system, err := r.system(client)
	if err != nil {
		return nil, err
	}

	record := newRecord(metric.CategoryHealth, "system_health", "")
	record.AddTag("model", system.Model)
	record.AddCondition("state", string(system.Status.State))
	record.AddCondition("health", string(system.Status.Health))
	record.AddCondition("power_state", string(system.PowerState))
	return []metric.Record{record}, nil
}

func (r *RedfishReader) readThermal(client *gofish.APIClient) ([]metric.Record, error) {
	links, err := r.chassisLinks(client)
	if err != nil {
		return nil, err
	}
	if links.Thermal.ODataID == "" {
		return nil, nil
	}
	var thermal redfishThermal
	if err := getRedfishJSON(client, links.Thermal.ODataID, &thermal); err != nil {
		return nil, fmt.Errorf("reading thermal: %w", err)
	}

	var records []metric.Record
	for _, temperature := range thermal.Temperatures {
		if temperature.Status.State == string(common.AbsentState) {
			continue
		}
		record := newRecord(metric.CategoryThermal, "temperature", temperature.Name)
		record.AddTag("context", temperature.PhysicalContext)
		addOptionalFloat(&record, "value", temperature.ReadingCelsius, metric.UnitCelsius)
		addOptionalFloat(&record, "upper_threshold_critical", temperature.UpperThresholdCritical, metric.UnitCelsius)
		addOptionalFloat(&record, "lower_threshold_critical", temperature.LowerThresholdCritical, metric.UnitCelsius)
		record.AddCondition("status", temperature.Status.Health)
		records = append(records, record)
	}

	for _, fan := range thermal.Fans {
		if fan.Status.State == string(common.AbsentState) {
			continue
		}
		name := fan.Name
		if name == "" {
			name = fan.FanName
		}
		record := newRecord(metric.CategoryThermal, "fan", name)
		if fan.Reading != nil {
			if fan.ReadingUnits == "Percent" {
				record.AddField(metric.Float("speed_percent", *fan.Reading, metric.UnitPercent))
			} else {
				record.AddField(metric.Int("speed_rpm", int64(*fan.Reading), metric.UnitRPM))
			}
		}
		record.AddCondition("status", fan.Status.Health)
		records = append(records, record)
	}

	return records, nil
}

func (r *RedfishReader) readPower(client *gofish.APIClient) ([]metric.Record, error) {
	links, err := r.chassisLinks(client)
	if err != nil {
		return nil, err
	}
	if links.Power.ODataID == "" {
		return nil, nil
	}
	var power redfishPower
	if err := getRedfishJSON(client, links.Power.ODataID, &power); err != nil {
		return nil, fmt.Errorf("reading power: %w", err)
	}

	var records []metric.Record
	for index, supply := range power.PowerSupplies {
		if supply.Status.State == string(common.AbsentState) {
			continue
		}
		record := newRecord(metric.CategoryPower, "power_supply", strconv.Itoa(index+1))
		record.AddTag("model", supply.Model)
		addOptionalFloat(&record, "power_capacity", supply.PowerCapacityWatts, metric.UnitWatts)
		addOptionalFloat(&record, "power_output", supply.LastPowerOutputWatts, metric.UnitWatts)
		record.AddCondition("status", supply.Status.Health)
		record.AddCondition("state", supply.Status.State)
		records = append(records, record)
	}

	if len(power.PowerControl) > 0 {
		control := power.PowerControl[0]
		record := newRecord(metric.CategoryPower, "power_consumption", "")
		addOptionalFloat(&record, "current_watts", control.PowerConsumedWatts, metric.UnitWatts)
		if control.PowerMetrics != nil {
			addOptionalFloat(&record, "average_watts", control.PowerMetrics.AverageConsumedWatts, metric.UnitWatts)
		}
		addOptionalFloat(&record, "max_watts", control.PowerCapacityWatts, metric.UnitWatts)
		if len(record.Fields) > 0 {
			records = append(records, record)
		}
	}

	return records, nil
}

func (r *RedfishReader) readMemory(client *gofish.APIClient) ([]metric.Record, error) {
	system, err := r.system(client)
	if err != nil {
		return nil, err
	}
	memories, err := system.Memory()
	if err != nil {
		return nil, fmt.Errorf("reading memory: %w", err)
	}

	var records []metric.Record
	for _, memory := range memories {
		if absent(memory.Status) || memory.CapacityMiB == 0 {
			continue
		}
		name := memory.DeviceLocator
		if name == "" {
			name = memory.Name
		}
		record := newRecord(metric.CategoryMemory, "memory", name)
		record.AddTag("manufacturer", cleanValue(memory.Manufacturer))
		record.AddField(metric.Int("size_mb", int64(memory.CapacityMiB), metric.UnitMegabytes))
		if memory.OperatingSpeedMhz > 0 {
			record.AddField(metric.Int("speed_mhz", int64(memory.OperatingSpeedMhz), metric.UnitMegahertz))
		}
		record.AddCondition("status", string(memory.Status.Health))
		records = append(records, record)
	}
	return records, nil
}

func (r *RedfishReader) readStorage(client *gofish.APIClient) ([]metric.Record, error) {
	system, err := r.system(client)
	if err != nil {
		return nil, err
	}
	storages, err := system.Storage()
	if err != nil {
		return nil, fmt.Errorf("reading storage: %w", err)
	}

	var records []metric.Record
	for _, storage := range storages {
		drives, err := storage.Drives()
		if err != nil {
			r.logger.Warn("Reading drives failed", "storage", storage.ID, "error", err)
			continue
		}
		for _, drive := range drives {
			if absent(drive.Status) {
				continue
			}
			record := newRecord(metric.CategoryStorage, "drive", drive.Name)
			record.AddTag("controller", storage.ID)
			record.AddTag("model", drive.Model)
			record.AddTag("serial", drive.SerialNumber)
			record.AddTag("protocol", string(drive.Protocol))
			record.AddTag("media_type", string(drive.MediaType))
			if drive.CapacityBytes > 0 {
				record.AddField(metric.Float("capacity_gb", float64(drive.CapacityBytes)/(1<<30), metric.UnitGigabytes))
			}
			record.AddCondition("status", string(drive.Status.Health))
			records = append(records, record)
		}
	}
	return records, nil
}

func absent(status common.Status) bool {
	return status.State == common.AbsentState
}

func checkRedfishAccess(client *gofish.APIClient) error {
	resp, err := client.Get(redfishSystemsPath)
	if err != nil {
		if classified := classifyRedfishError(err); errors.Is(classified, ErrSourceUnavailable) {
			return classified
		}
		return nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

// classifyRedfishError turns rejected credentials into ErrSourceUnavailable.
func classifyRedfishError(err error) error {
	var redfishErr *common.Error
	if errors.As(err, &redfishErr) {
		switch redfishErr.HTTPReturnedStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return unavailable("credentials rejected: %v", err)
		}
	}
	return err
}

func getRedfishJSON(client *gofish.APIClient, path string, out any) error {
	resp, err := client.Get(path)
	if err != nil {
		return classifyRedfishError(err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func addOptionalFloat(record *metric.Record, name string, value *float64, unit metric.Unit) {
	if value != nil {
		record.AddField(metric.Float(name, *value, unit))
	}
}
