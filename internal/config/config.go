package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mrzor/pwd-tracer/internal/pwdresolver"
)

// ErrInvalidConfig is returned for arguments or settings that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// CustomAttribute is a span attribute computed from an expression.
type CustomAttribute struct {
	Name       string
	Expression string
}

// Config holds the complete runtime configuration.
type Config struct {
	// ShellPID is the process whose children are traced.
	ShellPID int

	Tuning           *TuningConfig
	OTEL             *OTELConfig
	CustomAttributes []CustomAttribute
}

// TuningConfig holds settings read from PWD_TRACER_* environment variables.
type TuningConfig struct {
	Retries      int           `env:"PWD_TRACER_RETRIES" envDefault:"10"`
	PollInterval time.Duration `env:"PWD_TRACER_POLL_INTERVAL" envDefault:"10ms"`
	ProcRoot     string        `env:"PWD_TRACER_PROC_ROOT" envDefault:"/proc"`
	LogLevel     string        `env:"PWD_TRACER_LOG_LEVEL" envDefault:"info"`
	Attributes   string        `env:"PWD_TRACER_ATTRIBUTES" envDefault:""`
}

// RetryPolicy returns the resolver policy described by the tuning settings.
func (c *TuningConfig) RetryPolicy() pwdresolver.RetryPolicy {
	return pwdresolver.RetryPolicy{
		MaxAttempts:  c.Retries,
		PollInterval: c.PollInterval,
	}
}

// Load builds a Config from the positional arguments and an environment map
// such as env.ToMap(os.Environ()).
func Load(args []string, environ map[string]string) (*Config, error) {
	cfg, err := ParseArgs(args)
	if err != nil {
		return nil, err
	}

	tuning, err := ParseTuningConfig(environ)
	if err != nil {
		return nil, err
	}

	otelCfg, err := ParseOTELConfig(environ)
	if err != nil {
		return nil, err
	}

	attrs, err := ParseAttributeString(tuning.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: PWD_TRACER_ATTRIBUTES: %w", ErrInvalidConfig, err)
	}

	cfg.Tuning = tuning
	cfg.OTEL = otelCfg
	cfg.CustomAttributes = attrs
	return cfg, nil
}

// ParseArgs parses the positional arguments. Exactly one is expected: the
// shell pid, in decimal.
func ParseArgs(args []string) (*Config, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one argument (shell pid), got %d", ErrInvalidConfig, len(args))
	}

	pid, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: shell pid %q is not a decimal number", ErrInvalidConfig, args[0])
	}
	if pid <= 0 {
		return nil, fmt.Errorf("%w: shell pid must be positive, got %d", ErrInvalidConfig, pid)
	}

	return &Config{ShellPID: pid}, nil
}

// ParseTuningConfig parses PWD_TRACER_* settings from environ.
func ParseTuningConfig(environ map[string]string) (*TuningConfig, error) {
	var cfg TuningConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if cfg.Retries < 1 {
		return nil, fmt.Errorf("%w: PWD_TRACER_RETRIES must be at least 1, got %d", ErrInvalidConfig, cfg.Retries)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: PWD_TRACER_POLL_INTERVAL must be positive, got %s", ErrInvalidConfig, cfg.PollInterval)
	}
	if cfg.ProcRoot == "" {
		return nil, fmt.Errorf("%w: PWD_TRACER_PROC_ROOT cannot be empty", ErrInvalidConfig)
	}

	return &cfg, nil
}

// ParseAttributeString parses custom attributes in the form
// "name1=expr1;name2=expr2". Whitespace around names and expressions is
// trimmed and empty sections are skipped.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var attrs []CustomAttribute
	for _, section := range strings.Split(s, ";") {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}

		name, expression, ok := strings.Cut(section, "=")
		if !ok {
			return nil, fmt.Errorf("invalid attribute format %q, expected name=expression", section)
		}

		name = strings.TrimSpace(name)
		expression = strings.TrimSpace(expression)
		if name == "" {
			return nil, fmt.Errorf("attribute name cannot be empty in %q", section)
		}
		if expression == "" {
			return nil, fmt.Errorf("attribute expression cannot be empty for %q", name)
		}

		attrs = append(attrs, CustomAttribute{Name: name, Expression: expression})
	}

	return attrs, nil
}
