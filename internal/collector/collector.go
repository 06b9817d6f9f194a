package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/normalize"
	"github.com/vinted/ilo-monitor/internal/source"
)

const defaultSourceTimeout = 60 * time.Second

// ErrReaderPanic wraps a panic recovered from a reader.
var ErrReaderPanic = errors.New("reader panicked")

type Config struct {
	// Verbose records shadowed sources on the winning record.
	Verbose bool
	// SelfMetrics adds one collector_{category} record per category.
	SelfMetrics   bool
	SourceTimeout time.Duration
}

type Target struct {
	Host    string
	Version string
	Readers []source.Reader
	Plan    Plan
}

type categoryStats struct {
	duration float64
	records  int
	tried    int
	success  bool
}

type statsKey struct {
	host     string
	category metric.Category
}

// passStats keeps the outcome of the latest pass of every host and exposes
// it as prometheus metrics.
type passStats struct {
	categoryDuration *prometheus.Desc
	categoryRecords  *prometheus.Desc
	categorySuccess  *prometheus.Desc
	sourcesTried     *prometheus.Desc

	mu     sync.RWMutex
	latest map[statsKey]categoryStats
}

func newPassStats() *passStats {
	const (
		namespace = "ilo_monitor"
		subsystem = "category"
	)
	labels := []string{"host", "category"}

	return &passStats{
		categoryDuration: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "duration_seconds"),
			"Time it took to collect the category in the latest pass", labels, nil),
		categoryRecords: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "records"),
			"Number of records the category contributed in the latest pass", labels, nil),
		categorySuccess: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "success"),
			"Whether every reader of the category completed without a collection failure", labels, nil),
		sourcesTried: prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, "sources_tried"),
			"Number of readers consulted for the category in the latest pass", labels, nil),
		latest: map[statsKey]categoryStats{},
	}
}

func (s *passStats) store(host string, category metric.Category, stats categoryStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[statsKey{host: host, category: category}] = stats
}

func (s *passStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.categoryDuration
	ch <- s.categoryRecords
	ch <- s.categorySuccess
	ch <- s.sourcesTried
}

func (s *passStats) Collect(ch chan<- prometheus.Metric) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, stats := range s.latest {
		labels := []string{key.host, string(key.category)}
		success := 0.0
		if stats.success {
			success = 1
		}
		ch <- prometheus.MustNewConstMetric(s.categoryDuration, prometheus.GaugeValue, stats.duration, labels...)
		ch <- prometheus.MustNewConstMetric(s.categoryRecords, prometheus.GaugeValue, float64(stats.records), labels...)
		ch <- prometheus.MustNewConstMetric(s.categorySuccess, prometheus.GaugeValue, success, labels...)
		ch <- prometheus.MustNewConstMetric(s.sourcesTried, prometheus.GaugeValue, float64(stats.tried), labels...)
	}
}

// Collector runs collection passes. It is safe to run passes for several
// targets concurrently; each pass only touches its own metric.Set.
type Collector struct {
	logger     *slog.Logger
	normalizer *normalize.Normalizer
	config     Config
	now        func() time.Time
	stats      *passStats
}

func New(logger *slog.Logger, normalizer *normalize.Normalizer, config Config) *Collector {
	if config.SourceTimeout <= 0 {
		config.SourceTimeout = defaultSourceTimeout
	}

	return &Collector{
		logger:     logger,
		normalizer: normalizer,
		config:     config,
		now:        time.Now,
		stats:      newPassStats(),
	}
}

func (c *Collector) Stats() prometheus.Collector {
	return c.stats
}

// Collect runs one pass for target. Categories are visited in fixed order,
// readers in plan order. It never fails: reader errors become log entries or
// collection_error records.
func (c *Collector) Collect(ctx context.Context, target Target) *metric.Set {
	set := metric.NewSet(target.Host, target.Version, c.now())
	logger := c.logger.With("host", target.Host)

	readers := make(map[string]source.Reader, len(target.Readers))
	for _, reader := range target.Readers {
		readers[reader.Name()] = reader
	}

	for _, category := range metric.Categories {
		if ctx.Err() != nil {
			logger.Warn("Collection pass cancelled", "category", category, "error", ctx.Err())
			break
		}

		start := time.Now()
		stats := c.collectCategory(ctx, logger, set, readers, target.Plan[category], category)
		stats.duration = time.Since(start).Seconds()
		c.stats.store(target.Host, category, stats)

		if c.config.SelfMetrics {
			set.Upsert(c.selfRecord(category, stats), false)
		}
	}

	return set
}

func (c *Collector) collectCategory(ctx context.Context, logger *slog.Logger, set *metric.Set, readers map[string]source.Reader, plan []string, category metric.Category) categoryStats {
	stats := categoryStats{success: true}

	for _, name := range plan {
		reader, ok := readers[name]
		if !ok || !declares(reader, category) {
			continue
		}
		stats.tried++

		records, err := c.read(ctx, reader, category)
		if err != nil {
			if isUnavailable(err) {
				logger.Debug("Source unavailable", "source", name, "category", category, "error", err)
				continue
			}

			stats.success = false
			logger.Warn("Collection failure", "source", name, "category", category, "error", err)
			marker := newFailureMarker(category, name, err)
			for _, record := range c.normalizer.Normalize(name, []metric.Record{marker}) {
				set.Upsert(record, c.config.Verbose)
			}
			continue
		}

		for _, record := range c.normalizer.Normalize(name, records) {
			record.Category = category
			if set.Upsert(record, c.config.Verbose) {
				stats.records++
			}
		}
	}

	return stats
}

// read calls the reader under the per-source timeout and turns a panic into
// an error.
func (c *Collector) read(ctx context.Context, reader source.Reader, category metric.Category) (records []metric.Record, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			records = nil
			err = fmt.Errorf("%w: %s: %v", ErrReaderPanic, reader.Name(), recovered)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
	defer cancel()

	return reader.Read(ctx, category)
}

func (c *Collector) selfRecord(category metric.Category, stats categoryStats) metric.Record {
	record := metric.Record{
		Kind:     "collector",
		Name:     string(category),
		ID:       string(category),
		Key:      normalize.Key("collector", string(category)),
		Category: category,
		Source:   "collector",
	}
	record.AddField(metric.Float("duration_seconds", stats.duration, metric.UnitSeconds))
	record.AddField(metric.Int("records", int64(stats.records), metric.UnitCount))
	record.AddField(metric.Int("sources_tried", int64(stats.tried), metric.UnitCount))
	record.AddField(metric.Bool("success", stats.success))
	return record
}

// newFailureMarker keys the marker by category and reader, so two failing
// readers of one category both reach the output.
func newFailureMarker(category metric.Category, sourceName string, err error) metric.Record {
	record := metric.Record{Kind: "collection_error", Name: string(category) + " " + sourceName, Category: category, Source: sourceName}
	record.AddTag("error", err.Error())
	return record
}

func declares(reader source.Reader, category metric.Category) bool {
	for _, declared := range reader.Categories() {
		if declared == category {
			return true
		}
	}
	return false
}

func isUnavailable(err error) bool {
	return errors.Is(err, source.ErrSourceUnavailable) || errors.Is(err, command.ErrNotInstalled)
}
