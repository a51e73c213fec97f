package config

import "time"

// Config is the root configuration for Sextant.
type Config struct {
	Gateway   GatewayConfig    `json:"gateway"`
	Executors ExecutorsConfig  `json:"executors"`
	Events    EventsConfig     `json:"events"`
	Journal   JournalConfig    `json:"journal"`
	Storage   StorageConfig    `json:"storage"`
	Metrics   MetricsConfig    `json:"metrics"`
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ExecutorsConfig declares the named executor instances the daemon hosts.
type ExecutorsConfig struct {
	Default   string                    `json:"default"`
	Instances map[string]ExecutorConfig `json:"instances"`
}

// ExecutorConfig configures a single executor instance.
type ExecutorConfig struct {
	Strategy StrategyConfig `json:"strategy"`

	// PreemptGrace bounds how long control paths wait for a signaled hook
	// to wind down. Zero means the executor default.
	PreemptGrace Duration `json:"preempt_grace,omitempty"`
}

// StrategyConfig selects and tunes a localization strategy.
type StrategyConfig struct {
	Driver  string         `json:"driver"` // "sim", "static"
	Options map[string]any `json:"options,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"`
}

// JournalConfig holds the goal journal settings.
type JournalConfig struct {
	Path     string `json:"path"`     // SQLite file (default: $SEXTANT_PATH/journal.db)
	Disabled bool   `json:"disabled,omitempty"`
}

// StorageConfig holds on-disk state settings.
type StorageConfig struct {
	Dir string `json:"dir"` // state root (default: $SEXTANT_PATH)
}

// MetricsConfig holds Prometheus exposure settings.
type MetricsConfig struct {
	Disabled bool `json:"disabled,omitempty"` // /metrics is served unless disabled
}

// ScheduleConfig declares a recurring goal submitted on a cron expression.
type ScheduleConfig struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Executor string `json:"executor,omitempty"` // default executor when empty
	Action   string `json:"action"`
	Vertex   int64  `json:"vertex,omitempty"`
	Edge     int64  `json:"edge,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
