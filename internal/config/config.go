package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tidwall/jsonc"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/normalize"
	"github.com/vinted/ilo-monitor/internal/source"
)

const (
	DefaultVersion = "5"
	DefaultPort    = 443
	DefaultTimeout = 30
	LocalHost      = "localhost"
)

var ErrNoTargets = errors.New("no valid targets configured")

// ValidationError describes one rejected setting. Target is empty for
// settings that apply to the whole file.
type ValidationError struct {
	Target string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid target %q: %s: %s", e.Target, e.Field, e.Reason)
}

// Version is an iLO generation. Files may spell it as a number or a string.
type Version string

func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*v = Version(strings.TrimSpace(text))
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("version must be a number or a string: %w", err)
	}
	*v = Version(number.String())
	return nil
}

func (v *Version) UnmarshalText(text []byte) error {
	*v = Version(strings.TrimSpace(string(text)))
	return nil
}

type Target struct {
	Hostname  string  `json:"hostname" yaml:"hostname" toml:"hostname"`
	Username  string  `json:"username" yaml:"username" toml:"username"`
	Password  string  `json:"password" yaml:"password" toml:"password"`
	Version   Version `json:"version" yaml:"version" toml:"version"`
	Port      int     `json:"port" yaml:"port" toml:"port"`
	SSLVerify bool    `json:"ssl_verify" yaml:"ssl_verify" toml:"ssl_verify"`
	Timeout   int     `json:"timeout" yaml:"timeout" toml:"timeout"`
	LocalMode bool    `json:"local_mode" yaml:"local_mode" toml:"local_mode"`
}

func (t *Target) applyDefaults() {
	if t.Version == "" {
		t.Version = DefaultVersion
	}
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	if t.LocalMode && t.Hostname == "" {
		t.Hostname = LocalHost
	}
}

func (t Target) Name() string {
	if t.Hostname == "" {
		return "unnamed"
	}
	return t.Hostname
}

func (t Target) Validate() error {
	if t.LocalMode {
		return nil
	}
	invalid := func(field, reason string) error {
		return &ValidationError{Target: t.Name(), Field: field, Reason: reason}
	}

	if t.Hostname == "" {
		return invalid("hostname", "must be set")
	}
	if t.Username == "" || t.Password == "" {
		return invalid("username/password", "remote targets need credentials")
	}
	if t.Version != "4" && t.Version != "5" {
		return invalid("version", fmt.Sprintf("%q is not 4 or 5", string(t.Version)))
	}
	if t.Port < 1 || t.Port > 65535 {
		return invalid("port", strconv.Itoa(t.Port)+" is out of range")
	}
	return nil
}

func (t Target) Remote() source.RemoteTarget {
	return source.RemoteTarget{
		Endpoint:  "https://" + net.JoinHostPort(strings.Trim(t.Hostname, "[]"), strconv.Itoa(t.Port)),
		Username:  t.Username,
		Password:  t.Password,
		VerifySSL: t.SSLVerify,
		Timeout:   time.Duration(t.Timeout) * time.Second,
	}
}

type File struct {
	Targets         []Target            `json:"ilo_hosts" yaml:"ilo_hosts" toml:"ilo_hosts"`
	Priority        map[string][]string `json:"priority" yaml:"priority" toml:"priority"`
	DisabledSources []string            `json:"disabled_sources" yaml:"disabled_sources" toml:"disabled_sources" env:"ILO_MONITOR_DISABLED_SOURCES" env-separator:","`
	StatusAliases   map[string]string   `json:"status_aliases" yaml:"status_aliases" toml:"status_aliases"`
}

// Load reads a target file. The format follows the extension, ".jsonc" files
// are stripped of comments and read as JSON. Environment overrides apply on
// top of the file.
func Load(path string) (*File, error) {
	var file File

	if strings.EqualFold(filepath.Ext(path), ".jsonc") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if err := cleanenv.ReadEnv(&file); err != nil {
			return nil, fmt.Errorf("reading environment overrides: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &file); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	for i := range file.Targets {
		file.Targets[i].applyDefaults()
	}
	return &file, nil
}

// Validate checks the file-wide settings and returns the usable targets.
// Invalid targets are logged and dropped.
func (f *File) Validate(logger *slog.Logger) ([]Target, error) {
	if _, err := f.Vocabulary(); err != nil {
		return nil, &ValidationError{Field: "status_aliases", Reason: err.Error()}
	}
	if _, err := f.PriorityOverrides(); err != nil {
		return nil, err
	}
	for _, name := range f.DisabledSources {
		if !source.KnownName(name) {
			return nil, &ValidationError{Field: "disabled_sources", Reason: fmt.Sprintf("unknown reader %q", name)}
		}
	}

	var targets []Target
	for _, target := range f.Targets {
		if err := target.Validate(); err != nil {
			logger.Error("Dropping invalid target", "target", target.Name(), "error", err)
			continue
		}
		targets = append(targets, target)
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

func (f *File) Vocabulary() (*normalize.Vocabulary, error) {
	return normalize.NewVocabulary(f.StatusAliases)
}

func (f *File) PriorityOverrides() (map[metric.Category][]string, error) {
	overrides := make(map[metric.Category][]string, len(f.Priority))
	for key, names := range f.Priority {
		category, err := metric.ParseCategory(key)
		if err != nil {
			return nil, &ValidationError{Field: "priority", Reason: err.Error()}
		}
		for _, name := range names {
			if !source.KnownName(name) {
				return nil, &ValidationError{Field: "priority." + key, Reason: fmt.Sprintf("unknown reader %q", name)}
			}
		}
		overrides[category] = names
	}
	return overrides, nil
}
