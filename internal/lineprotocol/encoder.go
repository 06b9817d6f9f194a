// Package lineprotocol renders metric sets as InfluxDB line protocol for the
// telegraf exec input.
package lineprotocol

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/vinted/ilo-monitor/internal/metric"
)

const measurementPrefix = "ilo_"

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `, "\n", `\ `, "\r", "")
	tagEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `, "\n", `\ `, "\r", "")
)

type Encoder struct{}

// Encode writes one line per encodable record of set, in set order.
func (e Encoder) Encode(w io.Writer, set *metric.Set) error {
	_, err := w.Write(e.Format(set))
	return err
}

// Format returns the lines of set, each terminated by a newline.
func (e Encoder) Format(set *metric.Set) []byte {
	var buf bytes.Buffer
	timestamp := strconv.FormatInt(set.Timestamp.UnixNano(), 10)

	for _, record := range set.Records() {
		line, ok := encodeRecord(set, record)
		if !ok {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte(' ')
		buf.WriteString(timestamp)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// encodeRecord renders measurement, tags and fields of a record. It reports
// false for records with nothing to encode.
func encodeRecord(set *metric.Set, record metric.Record) (string, bool) {
	if record.Key == "" {
		return "", false
	}

	tags := make([]metric.Tag, 0, len(record.Tags)+len(record.Conditions)+4)
	tags = append(tags, metric.Tag{Key: "host", Value: set.Target}, metric.Tag{Key: "ilo_version", Value: set.Version})
	tags = append(tags, record.Tags...)
	for _, condition := range record.Conditions {
		tags = append(tags, metric.Tag{Key: condition.Name, Value: condition.Raw})
	}
	tags = append(tags, metric.Tag{Key: "source", Value: record.Source})
	if len(record.Shadowed) > 0 {
		tags = append(tags, metric.Tag{Key: "shadowed", Value: strings.Join(record.Shadowed, "|")})
	}

	var fields []string
	for _, field := range record.Fields {
		if !field.Valid() {
			continue
		}
		fields = append(fields, escapeTag(field.Name)+"="+formatValue(field))
	}
	for _, condition := range record.Conditions {
		fields = append(fields, escapeTag(condition.Name)+"_numeric="+strconv.Itoa(int(condition.Status)))
	}

	if len(fields) == 0 {
		if !hasTagValue(record.Tags) {
			return "", false
		}
		fields = append(fields, "present=1")
	}

	var line strings.Builder
	line.WriteString(measurementEscaper.Replace(measurementPrefix + record.Key))
	for _, tag := range tags {
		if tag.Value == "" {
			continue
		}
		line.WriteByte(',')
		line.WriteString(escapeTag(tag.Key))
		line.WriteByte('=')
		line.WriteString(escapeTag(tag.Value))
	}
	line.WriteByte(' ')
	line.WriteString(strings.Join(fields, ","))
	return line.String(), true
}

func hasTagValue(tags []metric.Tag) bool {
	for _, tag := range tags {
		if tag.Value != "" {
			return true
		}
	}
	return false
}

func escapeTag(value string) string {
	return tagEscaper.Replace(value)
}

// formatValue always gives floats a decimal point, 45 is written as 45.0.
func formatValue(field metric.Field) string {
	switch field.Kind {
	case metric.KindInt:
		return strconv.FormatInt(field.Int, 10)
	case metric.KindBool:
		if field.Bool {
			return "1"
		}
		return "0"
	default:
		formatted := strconv.FormatFloat(field.Float, 'f', -1, 64)
		if !strings.Contains(formatted, ".") {
			formatted += ".0"
		}
		return formatted
	}
}
