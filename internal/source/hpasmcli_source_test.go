package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/metric"
)

func TestHPASMCLIThermal(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Available", "hpasmcli").Return(true)
	expectRun(t, runner, "hpasmcli/show_temp.txt", "hpasmcli", "-s", "show temp")
	expectRun(t, runner, "hpasmcli/show_fans.txt", "hpasmcli", "-s", "show fans")

	records, err := NewHPASMCLIReader(testLogger, runner).Read(context.Background(), metric.CategoryThermal)
	require.NoError(t, err)
	runner.AssertExpectations(t)

	var temperatures, fans int
	for _, record := range records {
		switch record.Kind {
		case "temperature":
			temperatures++
		case "fan":
			fans++
		}
	}
	assert.Equal(t, 5, temperatures)
	assert.Equal(t, 2, fans)

	cpu := recordByName(t, records, "temperature", "CPU#1")
	assert.Equal(t, 40.0, fieldValue(t, cpu, "value"))
	assert.Equal(t, 82.0, fieldValue(t, cpu, "upper_threshold_critical"))
	assert.Empty(t, cpu.Conditions)

	fan := recordByName(t, records, "fan", "Fan 2")
	assert.Equal(t, 90.0, fieldValue(t, fan, "speed_percent"))
	assert.Equal(t, "HIGH", conditionRaw(t, fan, "status"))
	location, _ := fan.Tag("location")
	assert.Equal(t, "SYSTEM", location)
}

func TestHPASMCLIPower(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Available", "hpasmcli").Return(true)
	expectRun(t, runner, "hpasmcli/show_powersupply.txt", "hpasmcli", "-s", "show powersupply")

	records, err := NewHPASMCLIReader(testLogger, runner).Read(context.Background(), metric.CategoryPower)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := recordByName(t, records, "power_supply", "1")
	assert.Equal(t, "Ok", conditionRaw(t, first, "status"))
	assert.Equal(t, 110.0, fieldValue(t, first, "power_output"))
	assert.Equal(t, 1.0, fieldValue(t, first, "redundant"))

	second := recordByName(t, records, "power_supply", "2")
	assert.Equal(t, "FAILED", conditionRaw(t, second, "status"))
	_, hasOutput := second.Field("power_output")
	assert.False(t, hasOutput)
}

func TestHPASMCLINotInstalled(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Available", "hpasmcli").Return(false)

	_, err := NewHPASMCLIReader(testLogger, runner).Read(context.Background(), metric.CategoryPower)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
