package config

import (
	"time"

	logx "repeatjob/pkg/logx"
)

// Config is the full runtime configuration.
//
// The CLI builds it from its five positional arguments (FromArgs); embedding
// programs may load the same structure from a YAML/JSON file (Load).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Plan      PlanConfig      `json:"plan"`
	Diag      DiagConfig      `json:"diag"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty" validate:"required_if=Enabled true"`
}

type SchedulerConfig struct {
	// StopGrace bounds the wait for a removed job's timer (Go duration, e.g. "2s").
	StopGrace string `json:"stop_grace,omitempty"`
	// QueueWarnDepth: 0 = default, < 0 disables the backlog warning.
	QueueWarnDepth int    `json:"queue_warn_depth,omitempty"`
	Timezone       string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// DiagConfig controls the optional HTTP diagnostics server (/metrics,
// /healthz, /snapshot, pprof). Disabled by default.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// PlanConfig describes the add/run/remove sequence driven by the CLI.
// Durations are Go duration strings.
type PlanConfig struct {
	JobNum         int    `json:"job_num" validate:"gte=0"`
	InsertInterval string `json:"insert_interval,omitempty"`
	LaunchDelay    string `json:"launch_delay,omitempty"`
	LaunchInterval string `json:"launch_interval" validate:"required"`
	FullRunTime    string `json:"full_run_time,omitempty"`
}

// Plan is PlanConfig with parsed durations.
type Plan struct {
	JobNum         int
	InsertInterval time.Duration
	LaunchDelay    time.Duration
	LaunchInterval time.Duration
	FullRunTime    time.Duration
}

// Scheduler is SchedulerConfig with parsed durations.
type Scheduler struct {
	StopGrace      time.Duration
	QueueWarnDepth int
	Timezone       string
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// Default returns a config with console logging at info and an empty plan.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
