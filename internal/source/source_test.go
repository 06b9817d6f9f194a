package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/metric"
)

const fixturesDir = "../../fixtures/test"

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Available(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

func (m *mockRunner) Run(ctx context.Context, name string, arguments ...string) (command.Result, error) {
	callArgs := append([]interface{}{name}, toInterfaces(arguments)...)
	args := m.Called(callArgs...)
	return args.Get(0).(command.Result), args.Error(1)
}

func toInterfaces(values []string) []interface{} {
	converted := make([]interface{}, len(values))
	for i, value := range values {
		converted[i] = value
	}
	return converted
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(fixturesDir, name))
	require.NoError(t, err)
	return string(content)
}

// expectRun registers a successful invocation that prints the named fixture.
func expectRun(t *testing.T, runner *mockRunner, fixtureName string, name string, arguments ...string) {
	t.Helper()
	callArgs := append([]interface{}{name}, toInterfaces(arguments)...)
	runner.On("Run", callArgs...).Return(command.Result{Stdout: fixture(t, fixtureName)}, nil).Once()
}

func recordByName(t *testing.T, records []metric.Record, kind, name string) metric.Record {
	t.Helper()
	for _, record := range records {
		if record.Kind == kind && record.Name == name {
			return record
		}
	}
	require.FailNowf(t, "record not found", "%s %q", kind, name)
	return metric.Record{}
}

func fieldValue(t *testing.T, record metric.Record, name string) float64 {
	t.Helper()
	field, ok := record.Field(name)
	require.Truef(t, ok, "field %s missing on %s %q", name, record.Kind, record.Name)
	return field.Number()
}

func conditionRaw(t *testing.T, record metric.Record, name string) string {
	t.Helper()
	condition, ok := record.Condition(name)
	require.Truef(t, ok, "condition %s missing on %s %q", name, record.Kind, record.Name)
	return condition.Raw
}

var testLogger = promslog.NewNopLogger()
