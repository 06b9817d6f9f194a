package main

import (
	"testing"

	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinted/ilo-monitor/internal/config"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/source"
)

func TestBuildTargetLocal(t *testing.T) {
	logger := promslog.NewNopLogger()
	readers := []source.Reader{source.NewProcReader(logger, "/proc")}
	priority := map[metric.Category][]string{metric.CategoryThermal: {source.NameSensors}}

	target := buildTarget(logger, config.Target{Hostname: config.LocalHost, Version: "5", LocalMode: true},
		readers, priority, []string{source.NameIPMITool})

	assert.Equal(t, config.LocalHost, target.Host)
	assert.Equal(t, "5", target.Version)
	assert.Equal(t, readers, target.Readers)
	assert.Equal(t, []string{source.NameSensors}, target.Plan[metric.CategoryThermal])
	assert.Equal(t, []string{source.NameProc}, target.Plan[metric.CategoryHealth])
}

func TestBuildTargetRemote(t *testing.T) {
	logger := promslog.NewNopLogger()
	priority := map[metric.Category][]string{metric.CategoryThermal: {source.NameSensors}}
	remote := config.Target{Hostname: "ilo-a.example", Username: "u", Password: "p", Version: "4", Port: 443, Timeout: 30}

	target := buildTarget(logger, remote, nil, priority, nil)

	assert.Equal(t, "ilo-a.example", target.Host)
	require.Len(t, target.Readers, 1)
	assert.Equal(t, source.NameILORest, target.Readers[0].Name())
	assert.Equal(t, []string{source.NameILORest}, target.Plan[metric.CategoryThermal])
	assert.NotContains(t, target.Plan, metric.CategoryStorage)

	remote.Version = "5"
	target = buildTarget(logger, remote, nil, nil, []string{source.NameRedfish})
	assert.Equal(t, source.NameRedfish, target.Readers[0].Name())
	assert.Empty(t, target.Plan)
}
