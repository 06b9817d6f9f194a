package output

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/vinted/ilo-monitor/internal/metric"
)

type jsonDocument struct {
	Timestamp    int64        `json:"timestamp"`
	TimestampNs  int64        `json:"timestamp_ns"`
	Host         string       `json:"ilo_host"`
	Version      string       `json:"ilo_version"`
	CollectionID string       `json:"collection_id"`
	Metrics      []jsonMetric `json:"metrics"`
}

type jsonMetric struct {
	Key        string            `json:"key"`
	Kind       string            `json:"kind"`
	Name       string            `json:"name,omitempty"`
	Category   metric.Category   `json:"category"`
	Source     string            `json:"source"`
	Fields     map[string]any    `json:"fields,omitempty"`
	Status     string            `json:"status,omitempty"`
	Conditions []jsonCondition   `json:"conditions,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Shadowed   []string          `json:"shadowed,omitempty"`
}

type jsonCondition struct {
	Name    string `json:"name"`
	Raw     string `json:"raw"`
	Status  string `json:"status"`
	Numeric int    `json:"numeric"`
}

type JSONFormatter struct {
	newID func() string
}

func NewJSONFormatter() JSONFormatter {
	return JSONFormatter{newID: uuid.NewString}
}

func (f JSONFormatter) Format(set *metric.Set) ([]byte, error) {
	newID := f.newID
	if newID == nil {
		newID = uuid.NewString
	}

	document := jsonDocument{
		Timestamp:    set.Timestamp.Unix(),
		TimestampNs:  set.Timestamp.UnixNano(),
		Host:         set.Target,
		Version:      set.Version,
		CollectionID: newID(),
		Metrics:      []jsonMetric{},
	}
	for _, record := range set.Records() {
		document.Metrics = append(document.Metrics, newJSONMetric(record))
	}

	encoded, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", set.Target, err)
	}
	return append(encoded, '\n'), nil
}

func newJSONMetric(record metric.Record) jsonMetric {
	converted := jsonMetric{
		Key:      record.Key,
		Kind:     record.Kind,
		Name:     record.Name,
		Category: record.Category,
		Source:   record.Source,
		Shadowed: record.Shadowed,
	}

	for _, field := range record.Fields {
		if !field.Valid() {
			continue
		}
		if converted.Fields == nil {
			converted.Fields = map[string]any{}
		}
		switch field.Kind {
		case metric.KindInt:
			converted.Fields[field.Name] = field.Int
		case metric.KindBool:
			converted.Fields[field.Name] = field.Bool
		default:
			converted.Fields[field.Name] = field.Float
		}
	}

	if status, ok := record.Status(); ok {
		converted.Status = status.String()
	}
	for _, condition := range record.Conditions {
		converted.Conditions = append(converted.Conditions, jsonCondition{
			Name:    condition.Name,
			Raw:     condition.Raw,
			Status:  condition.Status.String(),
			Numeric: int(condition.Status),
		})
	}

	for _, tag := range record.Tags {
		if converted.Tags == nil {
			converted.Tags = map[string]string{}
		}
		converted.Tags[tag.Key] = tag.Value
	}
	return converted
}
