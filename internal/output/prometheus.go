package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/vinted/ilo-monitor/internal/metric"
)

const namespace = "ilo"

var fixedLabels = []string{"host", "ilo_version", "name", "source"}

type sample struct {
	value  float64
	labels map[string]string
}

type family struct {
	name    string
	help    string
	extra   map[string]bool
	samples []sample
	desc    *prometheus.Desc
	labels  []string
}

// SetCollector exposes metric sets as gauges, one family per kind and field.
// Every family carries host, ilo_version, name and source labels plus the
// union of tag and condition names seen for it.
type SetCollector struct {
	families []*family
}

func NewSetCollector(sets ...*metric.Set) *SetCollector {
	byName := map[string]*family{}
	var families []*family

	add := func(name, help string, value float64, labels map[string]string) {
		f, ok := byName[name]
		if !ok {
			f = &family{name: name, help: help, extra: map[string]bool{}}
			byName[name] = f
			families = append(families, f)
		}
		for label := range labels {
			if !isFixedLabel(label) {
				f.extra[label] = true
			}
		}
		f.samples = append(f.samples, sample{value: value, labels: labels})
	}

	for _, set := range sets {
		for _, record := range set.Records() {
			if record.Key == "" {
				continue
			}
			labels := recordLabels(set, record)
			prefix := namespace + "_" + sanitizeName(record.Kind)

			encoded := 0
			for _, field := range record.Fields {
				if !field.Valid() {
					continue
				}
				help := fmt.Sprintf("%s %s", strings.ReplaceAll(record.Kind, "_", " "), strings.ReplaceAll(field.Name, "_", " "))
				if field.Unit != metric.UnitNone {
					help += " in " + string(field.Unit)
				}
				add(prefix+"_"+sanitizeName(field.Name), help, field.Number(), labels)
				encoded++
			}
			for _, condition := range record.Conditions {
				help := fmt.Sprintf("%s %s, 0 unknown, 1 OK, 2 warning, 3 critical", strings.ReplaceAll(record.Kind, "_", " "), condition.Name)
				add(prefix+"_"+sanitizeName(condition.Name)+"_numeric", help, float64(condition.Status), labels)
				encoded++
			}
			if encoded == 0 && len(record.Tags) > 0 {
				add(prefix+"_present", fmt.Sprintf("%s reported without readings", strings.ReplaceAll(record.Kind, "_", " ")), 1, labels)
			}
		}
	}

	for _, f := range families {
		f.labels = append([]string(nil), fixedLabels...)
		extra := make([]string, 0, len(f.extra))
		for label := range f.extra {
			extra = append(extra, label)
		}
		sort.Strings(extra)
		f.labels = append(f.labels, extra...)
		f.desc = prometheus.NewDesc(f.name, f.help, f.labels, nil)
	}

	return &SetCollector{families: families}
}

func (c *SetCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, f := range c.families {
		ch <- f.desc
	}
}

func (c *SetCollector) Collect(ch chan<- prometheus.Metric) {
	for _, f := range c.families {
		for _, s := range f.samples {
			values := make([]string, len(f.labels))
			for i, label := range f.labels {
				values[i] = s.labels[label]
			}
			m, err := prometheus.NewConstMetric(f.desc, prometheus.GaugeValue, s.value, values...)
			if err != nil {
				ch <- prometheus.NewInvalidMetric(f.desc, err)
				continue
			}
			ch <- m
		}
	}
}

// PrometheusFormatter writes the text exposition format understood by the
// node_exporter textfile collector. Collectors are gathered alongside the
// sets, e.g. the collector's own pass statistics.
type PrometheusFormatter struct {
	Collectors []prometheus.Collector
}

func (f PrometheusFormatter) Format(set *metric.Set) ([]byte, error) {
	return f.FormatBatch([]*metric.Set{set})
}

func (f PrometheusFormatter) FormatBatch(sets []*metric.Set) ([]byte, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range append([]prometheus.Collector{NewSetCollector(sets...)}, f.Collectors...) {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	families, err := registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("writing %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

func recordLabels(set *metric.Set, record metric.Record) map[string]string {
	labels := map[string]string{
		"host":        set.Target,
		"ilo_version": set.Version,
		"name":        record.ID,
		"source":      record.Source,
	}
	for _, tag := range record.Tags {
		if key := sanitizeName(tag.Key); !isFixedLabel(key) {
			labels[key] = tag.Value
		}
	}
	for _, condition := range record.Conditions {
		if key := sanitizeName(condition.Name); !isFixedLabel(key) {
			labels[key] = condition.Raw
		}
	}
	if len(record.Shadowed) > 0 {
		labels["shadowed"] = strings.Join(record.Shadowed, "|")
	}
	return labels
}

func isFixedLabel(label string) bool {
	for _, fixed := range fixedLabels {
		if label == fixed {
			return true
		}
	}
	return false
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, name)
}
