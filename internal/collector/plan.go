package collector

import (
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/source"
)

// Plan lists, per category, the readers to consult in priority order. The
// first reader to produce a key owns it.
type Plan map[metric.Category][]string

func DefaultLocalPlan() Plan {
	return Plan{
		metric.CategoryHealth:  {source.NameProc, source.NameIPMITool},
		metric.CategoryThermal: {source.NameHPASMCLI, source.NameIPMITool, source.NameSensors, source.NameNVML, source.NameHwmon, source.NameSysfs},
		metric.CategoryPower:   {source.NameHPASMCLI, source.NameIPMITool, source.NameNVML, source.NameSysfs},
		metric.CategoryMemory:  {source.NameDMIDecode, source.NameIPMITool, source.NameProc},
		metric.CategoryStorage: {source.NameSSACLI, source.NameSmartctl},
	}
}

// iLO4 has no storage reader.
func DefaultRemotePlan(version string) Plan {
	plan := Plan{}
	reader := source.NameRedfish
	if version == "4" {
		reader = source.NameILORest
	}

	for _, category := range metric.Categories {
		if version == "4" && category == metric.CategoryStorage {
			continue
		}
		plan[category] = []string{reader}
	}
	return plan
}

// WithOverrides copies the plan with priority lists swapped in and disabled
// readers dropped.
func (p Plan) WithOverrides(priority map[metric.Category][]string, disabled []string) Plan {
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}

	result := make(Plan, len(p))
	for _, category := range metric.Categories {
		names, ok := priority[category]
		if !ok {
			names = p[category]
		}

		var kept []string
		for _, name := range names {
			if !skip[name] {
				kept = append(kept, name)
			}
		}
		if len(kept) > 0 {
			result[category] = kept
		}
	}
	return result
}
