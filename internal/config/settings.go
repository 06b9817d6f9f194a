package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the runtime knobs read from the environment.
type Settings struct {
	CommandTimeout        time.Duration
	CommandMaxOutputBytes int
	SourceTimeout         time.Duration
	Parallelism           int
	RedisChannel          string
	NATSSubject           string
}

func LoadSettings(logger *slog.Logger) Settings {
	return Settings{
		CommandTimeout:        parseDurationEnv(logger, "ILO_MONITOR_COMMAND_TIMEOUT", 10*time.Second),
		CommandMaxOutputBytes: parseIntEnv(logger, "ILO_MONITOR_COMMAND_MAX_OUTPUT_BYTES", 1<<20),
		SourceTimeout:         parseDurationEnv(logger, "ILO_MONITOR_SOURCE_TIMEOUT", 60*time.Second),
		Parallelism:           parseIntEnv(logger, "ILO_MONITOR_PARALLELISM", 4),
		RedisChannel:          parseStringEnv("ILO_MONITOR_REDIS_CHANNEL", ""),
		NATSSubject:           parseStringEnv("ILO_MONITOR_NATS_SUBJECT", "ilo.metrics"),
	}
}

// SelfMetricsEnabled reports whether ILO_MONITOR_SELF_METRICS asks for
// collector_{category} records.
func SelfMetricsEnabled(logger *slog.Logger) bool {
	return parseBoolEnv(logger, "ILO_MONITOR_SELF_METRICS", false)
}

func envSetting[T any](logger *slog.Logger, key string, fallback T, parse func(string) (T, error), accept func(T) bool) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	value, err := parse(raw)
	if err != nil {
		logger.Warn("Ignoring unparsable setting", "variable", key, "value", raw, "fallback", fallback, "error", err)
		return fallback
	}
	if accept != nil && !accept(value) {
		logger.Warn("Ignoring out of range setting", "variable", key, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func parseBoolEnv(logger *slog.Logger, key string, fallback bool) bool {
	return envSetting(logger, key, fallback, strconv.ParseBool, nil)
}

func parseDurationEnv(logger *slog.Logger, key string, fallback time.Duration) time.Duration {
	return envSetting(logger, key, fallback, time.ParseDuration, func(d time.Duration) bool { return d > 0 })
}

func parseIntEnv(logger *slog.Logger, key string, fallback int) int {
	return envSetting(logger, key, fallback, strconv.Atoi, func(n int) bool { return n > 0 })
}

func parseStringEnv(key string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
