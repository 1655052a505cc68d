// conf/config.go
package conf

import (
	"bytes"
	"embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the full runtime configuration tree for the capture fabric. Load
// fills it in three layers, lowest to highest precedence: embedded defaults,
// the on-disk config file, and environment variable overrides. CLI flags are
// parsed into the loaded tree afterwards, so a flag given on the command line
// takes precedence over the environment variable for the same setting.
type Settings struct {
	Debug bool // true to enable trace-level logs; lock-ordering checks depend only on the duocapture_debuglocks build tag

	Main struct {
		WorkingDir string // root of recordings, logs, emergency backups
		Log        LogConfig
	}

	Capture struct {
		Channels   string // "loopback", "mic", or "both"
		SampleRate int    // Hz
	}

	Queue struct {
		Capture    int
		Processing int
		Storage    int
	}

	Pool struct {
		Small           int
		Medium          int
		Large           int
		SoftMiB         int
		HardMiB         int
		EmergencyMiB    int
		AllocTimeoutMS  int
	}

	Flush struct {
		BytesThresholdPct float64
		AgeMS             int
		IdleMS            int
		MaxRetries        int
	}

	Component struct {
		ThreadTimeoutMS int
	}

	Telemetry struct {
		Enabled bool   // true to enable Prometheus compatible telemetry endpoint
		Listen  string // IP address and port to listen on
	}

	Sentry struct {
		DSN string // optional; empty disables error telemetry forwarding to Sentry
	}
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay time.Weekday // Day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMu       sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMu.Lock()
		defer settingsMu.Unlock()
		s, err := Load()
		if err != nil {
			log.Printf("conf: failed to load settings, using defaults: %v", err)
			s = DefaultSettings()
		}
		settingsInstance = s
	})
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsInstance
}

// SetSetting overrides the global settings instance. Intended for tests and for
// cmd/duocapture wiring CLI/env-resolved settings back into the shared instance.
func SetSetting(s *Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settingsInstance = s
	once.Do(func() {}) // ensure Setting() never re-loads over an explicit SetSetting
}

// Load reads the embedded default config, then the on-disk config file if present,
// then binds environment variable overrides, returning the merged Settings.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaultData, err := configFiles.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("conf: failed to read embedded defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultData)); err != nil {
		return nil, fmt.Errorf("conf: failed to parse embedded defaults: %w", err)
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "duocapture"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	if err := v.MergeInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("conf: failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		log.Printf("conf: %v", err)
	}

	s := &Settings{}
	s.Main.WorkingDir = v.GetString("main.workingdir")
	s.Main.Log.Enabled = v.GetBool("main.log.enabled")
	s.Main.Log.Path = v.GetString("main.log.path")
	s.Main.Log.Rotation = RotationType(v.GetString("main.log.rotation"))
	s.Main.Log.MaxSize = v.GetInt64("main.log.maxsize")

	s.Capture.Channels = v.GetString("capture.channels")
	s.Capture.SampleRate = v.GetInt("capture.samplerate")

	s.Queue.Capture = v.GetInt("queue.capture")
	s.Queue.Processing = v.GetInt("queue.processing")
	s.Queue.Storage = v.GetInt("queue.storage")

	s.Pool.Small = v.GetInt("pool.small")
	s.Pool.Medium = v.GetInt("pool.medium")
	s.Pool.Large = v.GetInt("pool.large")
	s.Pool.SoftMiB = v.GetInt("pool.softmib")
	s.Pool.HardMiB = v.GetInt("pool.hardmib")
	s.Pool.EmergencyMiB = v.GetInt("pool.emergencymib")
	s.Pool.AllocTimeoutMS = v.GetInt("pool.alloctimeoutms")

	s.Flush.BytesThresholdPct = v.GetFloat64("flush.bytesthresholdpct")
	s.Flush.AgeMS = v.GetInt("flush.agems")
	s.Flush.IdleMS = v.GetInt("flush.idlems")
	s.Flush.MaxRetries = v.GetInt("flush.maxretries")

	s.Component.ThreadTimeoutMS = v.GetInt("component.threadtimeoutms")

	s.Telemetry.Enabled = v.GetBool("telemetry.enabled")
	s.Telemetry.Listen = v.GetString("telemetry.listen")

	s.Sentry.DSN = v.GetString("sentry.dsn")
	s.Debug = v.GetBool("debug")

	return s, nil
}
