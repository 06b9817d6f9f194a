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
	"strings"

	"github.com/vinted/ilo-monitor/internal/metric"
)

const iloRestBasePath = "/rest/v1"

// errResourceNotFound marks a 404, which older firmware returns for resources
// it does not implement.
var errResourceNotFound = errors.New("resource not found")

type iloStatus struct {
	Health string `json:"Health"`
	State  string `json:"State"`
}

type iloSystem struct {
	Model  string    `json:"Model"`
	Power  string    `json:"Power"`
	Status iloStatus `json:"Status"`
}

type iloTemperature struct {
	Name           string    `json:"Name"`
	Label          string    `json:"Label"`
	CurrentReading *float64  `json:"CurrentReading"`
	Status         iloStatus `json:"Status"`
}

type iloFan struct {
	FanName        string    `json:"FanName"`
	Label          string    `json:"Label"`
	CurrentReading *float64  `json:"CurrentReading"`
	Status         iloStatus `json:"Status"`
}

// iLO4 firmware releases disagree on the plural, both spellings are read.
type iloThermal struct {
	Temperatures []iloTemperature `json:"Temperatures"`
	Temperature  []iloTemperature `json:"Temperature"`
	Fans         []iloFan         `json:"Fans"`
}

type iloPower struct {
	PowerSupplies []struct {
		Status iloStatus `json:"Status"`
	} `json:"PowerSupplies"`
}

type iloDIMM struct {
	Name                string          `json:"Name"`
	DIMMStatus          string          `json:"DIMMStatus"`
	SizeMB              int64           `json:"SizeMB"`
	MaximumFrequencyMHz int64           `json:"MaximumFrequencyMHz"`
	Manufacturer        string          `json:"Manufacturer"`
	SocketLocator       json.RawMessage `json:"SocketLocator"`
	DIMMLocator         string          `json:"DIMMLocator"`
}

type iloMemoryCollection struct {
	Items []iloDIMM `json:"Items"`
	Links struct {
		Member []struct {
			Href string `json:"href"`
		} `json:"Member"`
	} `json:"links"`
}

// ILORestReader reads the legacy iLO4 REST API.
type ILORestReader struct {
	logger *slog.Logger
	target RemoteTarget
	client *http.Client
}

func NewILORestReader(logger *slog.Logger, target RemoteTarget) *ILORestReader {
	return &ILORestReader{logger: logger, target: target, client: target.httpClient()}
}

func (r *ILORestReader) Name() string {
	return NameILORest
}

// Categories omits storage, iLO4 exposes drives only through Smart Array OEM
// extensions.
func (r *ILORestReader) Categories() []metric.Category {
	return []metric.Category{metric.CategoryHealth, metric.CategoryThermal, metric.CategoryPower, metric.CategoryMemory}
}

func (r *ILORestReader) Read(ctx context.Context, category metric.Category) ([]metric.Record, error) {
	var records []metric.Record
	var err error

	switch category {
	case metric.CategoryHealth:
		records, err = r.readHealth(ctx)
	case metric.CategoryThermal:
		records, err = r.readThermal(ctx)
	case metric.CategoryPower:
		records, err = r.readPower(ctx)
	case metric.CategoryMemory:
		records, err = r.readMemory(ctx)
	default:
		return nil, unsupportedCategory(r, category)
	}

	if errors.Is(err, errResourceNotFound) {
		r.logger.Debug("Resource not implemented by firmware", "category", category, "error", err)
		return nil, nil
	}
	return records, err
}

// fetch GETs a path below /rest/v1. Transport failures and error statuses
// other than 404 make the source unavailable.
func (r *ILORestReader) fetch(ctx context.Context, path string, out any) error {
	if !strings.HasPrefix(path, iloRestBasePath) {
		path = iloRestBasePath + path
	}
	url := strings.TrimSuffix(r.target.Endpoint, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.target.Username, r.target.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return unavailable("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("GET %s: %w", path, errResourceNotFound)
		}
		return unavailable("GET %s: %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (r *ILORestReader) readHealth(ctx context.Context) ([]metric.Record, error) {
	var system iloSystem
	if err := r.fetch(ctx, "/Systems/1", &system); err != nil {
		return nil, err
	}

	record := newRecord(metric.CategoryHealth, "system_health", "")
	record.AddTag("model", system.Model)
	record.AddCondition("state", system.Status.State)
	record.AddCondition("health", system.Status.Health)
	record.AddCondition("power_state", system.Power)
	return []metric.Record{record}, nil
}

func (r *ILORestReader) readThermal(ctx context.Context) ([]metric.Record, error) {
	var thermal iloThermal
	if err := r.fetch(ctx, "/Chassis/1/Thermal", &thermal); err != nil {
		return nil, err
	}

	var records []metric.Record
	for _, temperature := range append(thermal.Temperatures, thermal.Temperature...) {
		if temperature.Status.State == "Absent" || temperature.CurrentReading == nil {
			continue
		}
		name := temperature.Label
		if name == "" {
			name = temperature.Name
		}
		record := newRecord(metric.CategoryThermal, "temperature", name)
		record.AddField(metric.Float("value", *temperature.CurrentReading, metric.UnitCelsius))
		record.AddCondition("status", temperature.Status.Health)
		records = append(records, record)
	}

	for _, fan := range thermal.Fans {
		if fan.Status.State == "Absent" {
			continue
		}
		name := fan.Label
		if name == "" {
			name = fan.FanName
		}
		record := newRecord(metric.CategoryThermal, "fan", name)
		if fan.CurrentReading != nil {
			record.AddField(metric.Float("speed_percent", *fan.CurrentReading, metric.UnitPercent))
		}
		record.AddCondition("status", fan.Status.Health)
		records = append(records, record)
	}

	return records, nil
}

func (r *ILORestReader) readPower(ctx context.Context) ([]metric.Record, error) {
	var power iloPower
	if err := r.fetch(ctx, "/Chassis/1/Power", &power); err != nil {
		return nil, err
	}

	var records []metric.Record
	for index, supply := range power.PowerSupplies {
		if supply.Status.State == "Absent" {
			continue
		}
		record := newRecord(metric.CategoryPower, "power_supply", strconv.Itoa(index+1))
		record.AddCondition("status", supply.Status.Health)
		record.AddCondition("state", supply.Status.State)
		records = append(records, record)
	}
	return records, nil
}

func (r *ILORestReader) readMemory(ctx context.Context) ([]metric.Record, error) {
	var collection iloMemoryCollection
	if err := r.fetch(ctx, "/Systems/1/Memory", &collection); err != nil {
		return nil, err
	}

	dimms := collection.Items
	if len(dimms) == 0 {
		for _, member := range collection.Links.Member {
			var dimm iloDIMM
			if err := r.fetch(ctx, member.Href, &dimm); err != nil {
				r.logger.Debug("Skipping DIMM", "href", member.Href, "error", err)
				continue
			}
			dimms = append(dimms, dimm)
		}
	}

	var records []metric.Record
	for _, dimm := range dimms {
		if dimm.DIMMStatus == "NotPresent" || dimm.SizeMB == 0 {
			continue
		}
		record := newRecord(metric.CategoryMemory, "memory", dimmName(dimm))
		record.AddTag("manufacturer", cleanValue(dimm.Manufacturer))
		record.AddField(metric.Int("size_mb", dimm.SizeMB, metric.UnitMegabytes))
		if dimm.MaximumFrequencyMHz > 0 {
			record.AddField(metric.Int("speed_mhz", dimm.MaximumFrequencyMHz, metric.UnitMegahertz))
		}
		record.AddCondition("status", dimm.DIMMStatus)
		records = append(records, record)
	}
	return records, nil
}

// dimmName prefers the full "PROC 1 DIMM 3" locator. Some firmware reports
// only the slot number there, with the socket as a separate number.
func dimmName(dimm iloDIMM) string {
	socket := strings.Trim(string(dimm.SocketLocator), `"`)
	if _, err := strconv.Atoi(dimm.DIMMLocator); err == nil && socket != "" && socket != "null" {
		return "PROC " + socket + " DIMM " + dimm.DIMMLocator
	}
	if dimm.DIMMLocator != "" {
		return dimm.DIMMLocator
	}
	return dimm.Name
}
