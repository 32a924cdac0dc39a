package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	yaml "go.yaml.in/yaml/v3"
)

// ArgNames are the CLI positional arguments, in order. All are whole seconds.
var ArgNames = []string{"job_num", "insert_interval", "launch_delay", "launch_interval", "full_run_time"}

var ErrUsage = errors.New("usage: repeatjob " + strings.Join(ArgNames, " "))

// FromArgs builds a validated Config from the five positional CLI arguments.
func FromArgs(args []string) (*Config, error) {
	if len(args) != len(ArgNames) {
		return nil, fmt.Errorf("%w (got %d arguments, want %d)", ErrUsage, len(args), len(ArgNames))
	}
	v := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not an integer", ErrUsage, ArgNames[i], a)
		}
		v[i] = n
	}

	cfg := Default()
	cfg.Plan = PlanConfig{
		JobNum:         v[0],
		InsertInterval: seconds(v[1]),
		LaunchDelay:    seconds(v[2]),
		LaunchInterval: seconds(v[3]),
		FullRunTime:    seconds(v[4]),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seconds(n int) string { return strconv.Itoa(n) + "s" }

// Load reads a JSON or YAML (by extension) config file. Unknown fields are rejected.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parsing config file: trailing data")
		}
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and that every duration parses.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := c.ResolvePlan(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := c.ResolveScheduler(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

func (c *Config) ResolvePlan() (Plan, error) {
	p := Plan{JobNum: c.Plan.JobNum}
	var err error
	if p.InsertInterval, err = ParseDurationField("plan.insert_interval", c.Plan.InsertInterval); err != nil {
		return Plan{}, err
	}
	if p.LaunchDelay, err = ParseDurationField("plan.launch_delay", c.Plan.LaunchDelay); err != nil {
		return Plan{}, err
	}
	if p.LaunchInterval, err = ParseDurationField("plan.launch_interval", c.Plan.LaunchInterval); err != nil {
		return Plan{}, err
	}
	if p.LaunchInterval <= 0 {
		return Plan{}, fmt.Errorf("plan.launch_interval: must be > 0")
	}
	if p.FullRunTime, err = ParseDurationField("plan.full_run_time", c.Plan.FullRunTime); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (c *Config) ResolveScheduler() (Scheduler, error) {
	grace, err := ParseDurationField("scheduler.stop_grace", c.Scheduler.StopGrace)
	if err != nil {
		return Scheduler{}, err
	}
	return Scheduler{
		StopGrace:      grace,
		QueueWarnDepth: c.Scheduler.QueueWarnDepth,
		Timezone:       strings.TrimSpace(c.Scheduler.Timezone),
	}, nil
}

// coerceToJSONBytes converts a YAML file to JSON so both formats share the
// strict JSON decoder.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing config file: yaml: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("parsing config file: yaml->json: %w", err)
	}
	return j, nil
}

// stringKeys makes every map key a string so the value can be JSON-marshaled.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
