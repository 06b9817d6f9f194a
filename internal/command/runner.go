package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrNotAllowed   = errors.New("command not allowed")
	ErrNotInstalled = errors.New("command not installed")
	ErrTimeout      = errors.New("command timed out")
)

// DefaultAllowlist holds the diagnostic tools the local readers may run.
var DefaultAllowlist = []string{
	"ipmitool",
	"hpasmcli",
	"hpssacli",
	"ssacli",
	"dmidecode",
	"sensors",
	"smartctl",
}

type Result struct {
	Stdout    string
	ExitCode  int
	Truncated bool
}

// ExitError is returned when a command ran but exited non-zero. The output
// captured up to that point is still returned alongside it.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed: %s: exit status %d", e.Command, e.Code)
}

type Runner interface {
	Available(name string) bool
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

type Config struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Allowlist      []string
}

type ExecRunner struct {
	logger    *slog.Logger
	config    Config
	allowlist map[string]struct{}
	lookPath  func(string) (string, error)
}

func NewExecRunner(logger *slog.Logger, config Config) *ExecRunner {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = 1 << 20
	}
	if config.Allowlist == nil {
		config.Allowlist = DefaultAllowlist
	}

	allowlist := make(map[string]struct{}, len(config.Allowlist))
	for _, name := range config.Allowlist {
		allowlist[name] = struct{}{}
	}

	return &ExecRunner{
		logger:    logger,
		config:    config,
		allowlist: allowlist,
		lookPath:  exec.LookPath,
	}
}

func (r *ExecRunner) Available(name string) bool {
	if _, ok := r.allowlist[name]; !ok {
		return false
	}
	_, err := r.lookPath(name)
	return err == nil
}

func (r *ExecRunner) Run(parentCtx context.Context, name string, args ...string) (Result, error) {
	commandString := strings.TrimSpace(name + " " + strings.Join(args, " "))

	if _, ok := r.allowlist[name]; !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotAllowed, commandString)
	}

	path, err := r.lookPath(name)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	cmdCtx, cancel := context.WithTimeout(parentCtx, r.config.Timeout)
	defer cancel()

	command := exec.CommandContext(cmdCtx, path, args...)
	output := &cappedOutput{limit: r.config.MaxOutputBytes}
	command.Stdout = output
	command.WaitDelay = time.Second

	err = command.Run()
	if output.truncated {
		r.logger.Warn("Command output truncated", "command", commandString, "max_bytes", r.config.MaxOutputBytes)
	}

	result := Result{Stdout: output.String(), Truncated: output.truncated}

	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %s", ErrTimeout, commandString)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Command: commandString, Code: result.ExitCode}
		}
		return result, fmt.Errorf("command failed: %s: %w", commandString, err)
	}

	return result, nil
}

// cappedOutput keeps the first limit bytes of stdout and consumes the rest.
type cappedOutput struct {
	data      []byte
	limit     int
	truncated bool
}

func (c *cappedOutput) Write(p []byte) (int, error) {
	room := c.limit - len(c.data)
	switch {
	case room <= 0:
		c.truncated = c.truncated || len(p) > 0
	case len(p) > room:
		c.data = append(c.data, p[:room]...)
		c.truncated = true
	default:
		c.data = append(c.data, p...)
	}
	return len(p), nil
}

func (c *cappedOutput) String() string {
	return string(c.data)
}
