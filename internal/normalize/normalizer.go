package normalize

import (
	"log/slog"
	"strconv"

	"github.com/vinted/ilo-monitor/internal/metric"
)

type Normalizer struct {
	vocabulary *Vocabulary
	logger     *slog.Logger
}

func New(vocabulary *Vocabulary, logger *slog.Logger) *Normalizer {
	if vocabulary == nil {
		vocabulary = DefaultVocabulary()
	}
	return &Normalizer{vocabulary: vocabulary, logger: logger}
}

func (n *Normalizer) Vocabulary() *Vocabulary {
	return n.vocabulary
}

// Normalize assigns keys and canonical statuses to records produced by one
// read of source. Duplicate keys within the batch get an ordinal suffix.
func (n *Normalizer) Normalize(source string, records []metric.Record) []metric.Record {
	seen := map[string]int{}
	normalized := make([]metric.Record, 0, len(records))

	for _, record := range records {
		record = record.Clone()
		if record.Kind == "" {
			n.logger.Debug("Record without kind dropped", "source", source, "name", record.Name)
			continue
		}
		if record.Source == "" {
			record.Source = source
		}

		record.ID = CanonicalName(record.Kind, record.Name)
		key := Key(record.Kind, record.ID)
		seen[key]++
		if count := seen[key]; count > 1 {
			suffix := strconv.Itoa(count)
			n.logger.Debug("Duplicate sensor name in source, adding suffix", "source", source, "key", key, "suffix", suffix)
			if record.ID == "" {
				record.ID = suffix
			} else {
				record.ID = record.ID + "_" + suffix
			}
			key = Key(record.Kind, record.ID)
		}
		record.Key = key

		record.Conditions = dropEmptyConditions(record.Conditions)
		if len(record.Conditions) == 0 {
			if raw, ok := deriveStatus(record); ok {
				record.AddCondition("status", raw)
			}
		}

		for i := range record.Conditions {
			condition := &record.Conditions[i]
			condition.Status = n.vocabulary.Lookup(record.Source, condition.Raw)
			if !n.vocabulary.Known(record.Source, condition.Raw) {
				n.logger.Debug("Unrecognized status text", "source", record.Source, "key", key, "condition", condition.Name, "value", condition.Raw)
			}
		}

		normalized = append(normalized, record)
	}

	return normalized
}

func dropEmptyConditions(conditions []metric.Condition) []metric.Condition {
	kept := conditions[:0]
	for _, condition := range conditions {
		if condition.Raw != "" {
			kept = append(kept, condition)
		}
	}
	return kept
}

// deriveStatus produces a base vocabulary word for readings whose backend
// reports no status of its own.
func deriveStatus(record metric.Record) (string, bool) {
	switch record.Kind {
	case "fan":
		rpm, ok := record.Field("speed_rpm")
		if !ok {
			return "", false
		}
		if rpm.Number() <= 0 {
			return "Warning", true
		}
		return "OK", true
	case "temperature":
		value, ok := record.Field("value")
		if !ok {
			return "", false
		}
		if critical, ok := record.Field("upper_threshold_critical"); ok && critical.Number() > 0 && value.Number() >= critical.Number() {
			return "Critical", true
		}
		if warning, ok := record.Field("upper_threshold_warning"); ok && warning.Number() > 0 && value.Number() >= warning.Number() {
			return "Warning", true
		}
		return "OK", true
	}
	return "", false
}
