package config

import (
	"errors"
	"io/fs"
	"log/slog"
)

// Flags carries the command-line settings that select targets.
type Flags struct {
	ConfigPath string
	Host       string
	Username   string
	Password   string
	Version    string
	Local      bool
}

// Resolve picks the targets of a run. --local wins over --host, which wins
// over the config file. The file is still read for priority, disabled
// sources and aliases when it exists.
func Resolve(logger *slog.Logger, flags Flags) (*File, []Target, error) {
	if !flags.Local && flags.Host == "" {
		file, err := Load(flags.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		targets, err := file.Validate(logger)
		if err != nil {
			return nil, nil, err
		}
		return file, targets, nil
	}

	file := &File{}
	if flags.ConfigPath != "" {
		loaded, err := Load(flags.ConfigPath)
		switch {
		case err == nil:
			file = loaded
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("No config file, using defaults", "path", flags.ConfigPath)
		default:
			return nil, nil, err
		}
	}
	file.Targets = nil

	var target Target
	if flags.Local {
		target = Target{Hostname: LocalHost, LocalMode: true, Version: Version(flags.Version)}
	} else {
		target = Target{
			Hostname: flags.Host,
			Username: flags.Username,
			Password: flags.Password,
			Version:  Version(flags.Version),
		}
	}
	target.applyDefaults()
	if err := target.Validate(); err != nil {
		return nil, nil, err
	}

	file.Targets = []Target{target}
	if _, err := file.Validate(logger); err != nil {
		return nil, nil, err
	}
	return file, file.Targets, nil
}
