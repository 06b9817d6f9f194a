// Package output turns metric sets into text blocks and delivers them to
// stdout and the optional message sinks.
package output

import (
	"fmt"

	"github.com/vinted/ilo-monitor/internal/lineprotocol"
	"github.com/vinted/ilo-monitor/internal/metric"
)

const (
	FormatTelegraf   = "telegraf"
	FormatJSON       = "json"
	FormatPrometheus = "prometheus"
)

// Formats lists the accepted --output values.
var Formats = []string{FormatTelegraf, FormatJSON, FormatPrometheus}

// Formatter renders the set of one target as a single block.
type Formatter interface {
	Format(set *metric.Set) ([]byte, error)
}

// BatchFormatter is implemented by formats that cannot be concatenated per
// target and need every set of a run at once.
type BatchFormatter interface {
	FormatBatch(sets []*metric.Set) ([]byte, error)
}

func NewFormatter(name string) (Formatter, error) {
	switch name {
	case FormatTelegraf:
		return TelegrafFormatter{}, nil
	case FormatJSON:
		return NewJSONFormatter(), nil
	case FormatPrometheus:
		return PrometheusFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %q", name)
	}
}

type TelegrafFormatter struct {
	encoder lineprotocol.Encoder
}

func (f TelegrafFormatter) Format(set *metric.Set) ([]byte, error) {
	return f.encoder.Format(set), nil
}
