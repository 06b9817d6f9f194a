package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/normalize"
	"github.com/vinted/ilo-monitor/pkg/redis"
)

var (
	testLogger = promslog.NewNopLogger()
	passTime   = time.Unix(1700000000, 500)
)

func sampleSet(t *testing.T, host string) *metric.Set {
	t.Helper()

	inlet := metric.Record{Kind: "temperature", Name: "01-Inlet Ambient", Category: metric.CategoryThermal}
	inlet.AddTag("context", "Intake")
	inlet.AddField(metric.Float("value", 21, metric.UnitCelsius))
	inlet.AddCondition("status", "OK")

	fan := metric.Record{Kind: "fan", Name: "Fan 2", Category: metric.CategoryThermal}
	fan.AddField(metric.Int("speed_rpm", 0, metric.UnitRPM))

	drive := metric.Record{Kind: "drive", Name: "sdb", Category: metric.CategoryStorage}
	drive.AddTag("model", "MB2000GCWDA")
	drive.AddField(metric.Bool("smart_passed", false))
	drive.AddCondition("status", "FAILED")

	failure := metric.Record{Kind: "collection_error", Name: "power", Category: metric.CategoryPower, Source: "hpasmcli"}
	failure.AddTag("error", "unexpected output")

	normalizer := normalize.New(nil, testLogger)
	set := metric.NewSet(host, "5", passTime)
	for _, batch := range []struct {
		source  string
		records []metric.Record
	}{
		{"redfish", []metric.Record{inlet}},
		{"sensors", []metric.Record{fan}},
		{"smartctl", []metric.Record{drive}},
		{"hpasmcli", []metric.Record{failure}},
	} {
		for _, record := range normalizer.Normalize(batch.source, batch.records) {
			set.Upsert(record, true)
		}
	}
	require.Equal(t, 4, set.Len())
	return set
}

func TestNewFormatter(t *testing.T) {
	for _, name := range Formats {
		formatter, err := NewFormatter(name)
		require.NoError(t, err, name)
		assert.NotNil(t, formatter)
	}

	_, err := NewFormatter("csv")
	assert.Error(t, err)
}

func TestTelegrafFormatter(t *testing.T) {
	block, err := TelegrafFormatter{}.Format(sampleSet(t, "ilo-a"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(block), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ilo_fan_fan2,host=ilo-a,ilo_version=5,status=Warning,source=sensors speed_rpm=0,status_numeric=2 1700000000000000500", lines[1])
	assert.Equal(t, "ilo_collection_error_power,host=ilo-a,ilo_version=5,error=unexpected\\ output,source=hpasmcli present=1 1700000000000000500", lines[3])
}

func TestJSONFormatter(t *testing.T) {
	formatter := JSONFormatter{newID: func() string { return "3f0c6a8e-4c1e-4a8e-9d55-2d6f0f6b7a10" }}
	block, err := formatter.Format(sampleSet(t, "ilo-a"))
	require.NoError(t, err)

	var document struct {
		Timestamp    int64  `json:"timestamp"`
		TimestampNs  int64  `json:"timestamp_ns"`
		Host         string `json:"ilo_host"`
		Version      string `json:"ilo_version"`
		CollectionID string `json:"collection_id"`
		Metrics      []struct {
			Key        string            `json:"key"`
			Category   string            `json:"category"`
			Source     string            `json:"source"`
			Fields     map[string]any    `json:"fields"`
			Status     string            `json:"status"`
			Tags       map[string]string `json:"tags"`
			Conditions []struct {
				Raw     string `json:"raw"`
				Numeric int    `json:"numeric"`
			} `json:"conditions"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(block, &document))

	assert.Equal(t, int64(1700000000), document.Timestamp)
	assert.Equal(t, int64(1700000000000000500), document.TimestampNs)
	assert.Equal(t, "ilo-a", document.Host)
	assert.Equal(t, "5", document.Version)
	assert.Equal(t, "3f0c6a8e-4c1e-4a8e-9d55-2d6f0f6b7a10", document.CollectionID)
	require.Len(t, document.Metrics, 4)

	inlet := document.Metrics[0]
	assert.Equal(t, "temperature_01_inlet_ambient", inlet.Key)
	assert.Equal(t, "thermal", inlet.Category)
	assert.Equal(t, 21.0, inlet.Fields["value"])
	assert.Equal(t, "OK", inlet.Status)
	assert.Equal(t, "Intake", inlet.Tags["context"])

	drive := document.Metrics[2]
	assert.Equal(t, false, drive.Fields["smart_passed"])
	assert.Equal(t, "Critical", drive.Status)
	require.Len(t, drive.Conditions, 1)
	assert.Equal(t, "FAILED", drive.Conditions[0].Raw)
	assert.Equal(t, 3, drive.Conditions[0].Numeric)
}

func TestJSONFormatterCollectionIDIsUnique(t *testing.T) {
	formatter := NewJSONFormatter()
	set := sampleSet(t, "ilo-a")

	first, err := formatter.Format(set)
	require.NoError(t, err)
	second, err := formatter.Format(set)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSetCollector(t *testing.T) {
	collector := NewSetCollector(sampleSet(t, "ilo-a"), sampleSet(t, "ilo-b"))

	problems, err := testutil.CollectAndLint(collector)
	require.NoError(t, err)
	assert.Empty(t, problems)

	expected := `
# HELP ilo_fan_speed_rpm fan speed rpm in rpm
# TYPE ilo_fan_speed_rpm gauge
ilo_fan_speed_rpm{host="ilo-a",ilo_version="5",name="fan2",source="sensors",status="Warning"} 0
ilo_fan_speed_rpm{host="ilo-b",ilo_version="5",name="fan2",source="sensors",status="Warning"} 0
# HELP ilo_drive_status_numeric drive status, 0 unknown, 1 OK, 2 warning, 3 critical
# TYPE ilo_drive_status_numeric gauge
ilo_drive_status_numeric{host="ilo-a",ilo_version="5",model="MB2000GCWDA",name="sdb",source="smartctl",status="FAILED"} 3
ilo_drive_status_numeric{host="ilo-b",ilo_version="5",model="MB2000GCWDA",name="sdb",source="smartctl",status="FAILED"} 3
# HELP ilo_collection_error_present collection error reported without readings
# TYPE ilo_collection_error_present gauge
ilo_collection_error_present{error="unexpected output",host="ilo-a",ilo_version="5",name="power",source="hpasmcli"} 1
ilo_collection_error_present{error="unexpected output",host="ilo-b",ilo_version="5",name="power",source="hpasmcli"} 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"ilo_fan_speed_rpm", "ilo_drive_status_numeric", "ilo_collection_error_present"))
	assert.Equal(t, 14, testutil.CollectAndCount(collector))
}

func TestPrometheusFormatter(t *testing.T) {
	block, err := PrometheusFormatter{}.FormatBatch([]*metric.Set{sampleSet(t, "ilo-a"), sampleSet(t, "ilo-b")})
	require.NoError(t, err)

	text := string(block)
	assert.Equal(t, 1, strings.Count(text, "# TYPE ilo_temperature_value gauge"))
	assert.Contains(t, text, `ilo_temperature_value{context="Intake",host="ilo-b",ilo_version="5",name="01_inlet_ambient",source="redfish",status="OK"} 21`)
	assert.Contains(t, text, `ilo_drive_smart_passed{host="ilo-a",ilo_version="5",model="MB2000GCWDA",name="sdb",source="smartctl",status="FAILED"} 0`)
}

func TestPrometheusFormatterExtraCollectors(t *testing.T) {
	runs := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ilo_monitor_targets", Help: "Targets in the run"})
	runs.Set(2)

	block, err := PrometheusFormatter{Collectors: []prometheus.Collector{runs}}.Format(sampleSet(t, "ilo-a"))
	require.NoError(t, err)
	assert.Contains(t, string(block), "ilo_monitor_targets 2\n")
	assert.Contains(t, string(block), "# TYPE ilo_fan_speed_rpm gauge")
}

func TestStreamSeparatesBlocks(t *testing.T) {
	var buf bytes.Buffer
	stream := NewStream(&buf)

	require.NoError(t, stream.WriteBlock([]byte("a 1\nb 2\n")))
	require.NoError(t, stream.WriteBlock(nil))
	require.NoError(t, stream.WriteBlock([]byte("c 3")))

	assert.Equal(t, "a 1\nb 2\n\nc 3\n", buf.String())
}

func TestStreamDoesNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	stream := NewStream(&buf)

	var wg sync.WaitGroup
	for _, host := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			block := strings.Repeat("ilo_metric,host="+host+" value=1 1\n", 50)
			assert.NoError(t, stream.WriteBlock([]byte(block)))
		}()
	}
	wg.Wait()

	blocks := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n\n")
	require.Len(t, blocks, 6)
	for _, block := range blocks {
		lines := strings.Split(block, "\n")
		require.Len(t, lines, 50)
		for _, line := range lines {
			assert.Equal(t, lines[0], line)
		}
	}
}

func TestRedisSink(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	t.Setenv("REDIS_ADDRESS", server.Addr())

	client, err := redis.NewClient()
	require.NoError(t, err)
	sink := NewRedisSink(client, "ilo-monitor", time.Minute)
	defer sink.Close()

	require.NoError(t, sink.Publish(ctx, "ilo-a", []byte("block")))

	stored, err := server.Get(sink.LatestKey("ilo-a"))
	require.NoError(t, err)
	assert.Equal(t, "block", stored)
	assert.Equal(t, time.Minute, server.TTL("ilo-monitor:latest:ilo-a"))
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSSink(t *testing.T) {
	srv := runNATSServer(t)

	subscriber, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer subscriber.Close()
	subscription, err := subscriber.SubscribeSync("ilo.metrics.>")
	require.NoError(t, err)
	require.NoError(t, subscriber.Flush())

	sink, err := NewNATSSink(srv.ClientURL(), "ilo.metrics")
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, "ilo.metrics.ilo-a_example_com", sink.Subject("ilo-a.example.com"))
	require.NoError(t, sink.Publish(context.Background(), "ilo-a.example.com", []byte("block")))

	message, err := subscription.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ilo.metrics.ilo-a_example_com", message.Subject)
	assert.Equal(t, []byte("block"), message.Data)
}

func TestNATSSinkUnreachable(t *testing.T) {
	_, err := NewNATSSink("nats://127.0.0.1:1", "ilo.metrics")
	assert.Error(t, err)
}

type failingSink struct {
	published int
}

func (s *failingSink) Name() string {
	return "failing"
}

func (s *failingSink) Publish(context.Context, string, []byte) error {
	s.published++
	return errors.New("broker down")
}

func (s *failingSink) Close() error {
	return nil
}

func TestPublishAllContinuesAfterFailure(t *testing.T) {
	first, second := &failingSink{}, &failingSink{}

	err := PublishAll(context.Background(), testLogger, []Sink{first, second}, "ilo-a", []byte("block"))
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, first.published)
	assert.Equal(t, 1, second.published)
}
