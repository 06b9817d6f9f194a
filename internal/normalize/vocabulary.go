package normalize

import (
	"fmt"
	"sort"

	"github.com/vinted/ilo-monitor/internal/metric"
)

var baseTable = map[string]metric.Status{
	"OK":       metric.StatusOK,
	"Good":     metric.StatusOK,
	"Enabled":  metric.StatusOK,
	"On":       metric.StatusOK,
	"Warning":  metric.StatusWarning,
	"Degraded": metric.StatusWarning,
	"Critical": metric.StatusCritical,
	"Error":    metric.StatusCritical,
	"Failed":   metric.StatusCritical,
	"Off":      metric.StatusCritical,
	"Unknown":  metric.StatusUnknown,
	"Absent":   metric.StatusUnknown,
}

// Vendor words that only make sense for one backend.
var dialectTables = map[string]map[string]metric.Status{
	"ipmitool": {
		"ok": metric.StatusOK,
		"nc": metric.StatusWarning,
		"cr": metric.StatusCritical,
		"nr": metric.StatusCritical,
		"ns": metric.StatusUnknown,
		"na": metric.StatusUnknown,
	},
	"hpasmcli": {
		"NORMAL":   metric.StatusOK,
		"Ok":       metric.StatusOK,
		"HIGH":     metric.StatusWarning,
		"CAUTION":  metric.StatusWarning,
		"DEGRADED": metric.StatusWarning,
		"FAILED":   metric.StatusCritical,
		"CRITICAL": metric.StatusCritical,
	},
	"ssacli": {
		"Predictive Failure":    metric.StatusWarning,
		"Rebuilding":            metric.StatusWarning,
		"Recovering":            metric.StatusWarning,
		"Interim Recovery Mode": metric.StatusWarning,
		"Ready for Rebuild":     metric.StatusWarning,
	},
	"ilorest": {
		"GoodInUse":          metric.StatusOK,
		"GoodPartiallyInUse": metric.StatusOK,
		"Present":            metric.StatusOK,
		"DegradedDIMM":       metric.StatusWarning,
		"NotPresent":         metric.StatusUnknown,
	},
	"smartctl": {
		"PASSED": metric.StatusOK,
		"FAILED": metric.StatusCritical,
	},
}

// Vocabulary maps vendor status text onto the canonical scale. It is built
// once and is read-only afterwards, so it can be shared between goroutines.
type Vocabulary struct {
	base     map[string]metric.Status
	dialects map[string]map[string]metric.Status
	aliases  map[string]metric.Status
}

func DefaultVocabulary() *Vocabulary {
	vocabulary, _ := NewVocabulary(nil)
	return vocabulary
}

// NewVocabulary builds a vocabulary extended with aliases. Each alias maps a
// vendor word onto one of the base words OK, Warning, Critical or Unknown.
// Aliases never replace a base entry.
func NewVocabulary(aliases map[string]string) (*Vocabulary, error) {
	vocabulary := &Vocabulary{
		base:     copyTable(baseTable),
		dialects: map[string]map[string]metric.Status{},
		aliases:  map[string]metric.Status{},
	}
	for source, table := range dialectTables {
		vocabulary.dialects[source] = copyTable(table)
	}

	words := make([]string, 0, len(aliases))
	for word := range aliases {
		words = append(words, word)
	}
	sort.Strings(words)

	for _, word := range words {
		target := aliases[word]
		status, ok := canonicalWord(target)
		if !ok {
			return nil, fmt.Errorf("status alias %q targets unknown status %q", word, target)
		}
		if _, exists := vocabulary.base[word]; exists {
			continue
		}
		vocabulary.aliases[word] = status
	}

	return vocabulary, nil
}

// Lookup returns the canonical status for raw as reported by source. It is
// total: anything unrecognized maps to StatusUnknown.
func (v *Vocabulary) Lookup(source, raw string) metric.Status {
	status, _ := v.lookup(source, raw)
	return status
}

func (v *Vocabulary) Known(source, raw string) bool {
	_, ok := v.lookup(source, raw)
	return ok
}

func (v *Vocabulary) lookup(source, raw string) (metric.Status, bool) {
	if status, ok := v.base[raw]; ok {
		return status, true
	}
	if table, ok := v.dialects[source]; ok {
		if status, ok := table[raw]; ok {
			return status, true
		}
	}
	if status, ok := v.aliases[raw]; ok {
		return status, true
	}
	return metric.StatusUnknown, false
}

func (v *Vocabulary) Words(source string) []string {
	var words []string
	for word := range v.base {
		words = append(words, word)
	}
	for word := range v.dialects[source] {
		words = append(words, word)
	}
	for word := range v.aliases {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

func canonicalWord(word string) (metric.Status, bool) {
	switch word {
	case "OK", "Warning", "Critical", "Unknown":
		return baseTable[word], true
	default:
		return metric.StatusUnknown, false
	}
}

func copyTable(table map[string]metric.Status) map[string]metric.Status {
	copied := make(map[string]metric.Status, len(table))
	for word, status := range table {
		copied[word] = status
	}
	return copied
}
