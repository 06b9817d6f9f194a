package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/source"
)

func TestDefaultRemotePlan(t *testing.T) {
	v5 := DefaultRemotePlan("5")
	for _, category := range metric.Categories {
		assert.Equal(t, []string{source.NameRedfish}, v5[category], category)
	}

	v4 := DefaultRemotePlan("4")
	assert.Equal(t, []string{source.NameILORest}, v4[metric.CategoryMemory])
	assert.NotContains(t, v4, metric.CategoryStorage)
}

func TestPlanWithOverrides(t *testing.T) {
	plan := DefaultLocalPlan().WithOverrides(
		map[metric.Category][]string{metric.CategoryThermal: {source.NameSensors, source.NameIPMITool}},
		[]string{source.NameNVML, source.NameSmartctl, source.NameSSACLI},
	)

	assert.Equal(t, []string{source.NameSensors, source.NameIPMITool}, plan[metric.CategoryThermal])
	assert.Equal(t, []string{source.NameHPASMCLI, source.NameIPMITool, source.NameSysfs}, plan[metric.CategoryPower])
	assert.NotContains(t, plan, metric.CategoryStorage)

	// The receiver is left untouched.
	assert.Contains(t, DefaultLocalPlan()[metric.CategoryPower], source.NameNVML)
}

func TestLocalReadersCoverDefaultPlan(t *testing.T) {
	readers := LocalReaders(testLogger, LocalOptions{ProcPath: "/proc", SysPath: "/sys"})
	names := map[string]bool{}
	for _, reader := range readers {
		names[reader.Name()] = true
	}

	for category, plan := range DefaultLocalPlan() {
		for _, name := range plan {
			if name == source.NameNVML {
				continue
			}
			assert.True(t, names[name], "%s reader missing for %s", name, category)
		}
	}
	assert.False(t, names[source.NameNVML])
}
