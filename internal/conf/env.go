// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation, per
// the §6 EXTERNAL INTERFACES environment-variable surface.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.workingdir", "AT_WORKING_DIR", nil},
		{"capture.samplerate", "AT_SAMPLE_RATE", validateEnvPositiveInt},
		{"capture.channels", "AT_CHANNELS", validateEnvChannels},
		{"queue.capture", "AT_QUEUE_CAPTURE", validateEnvPositiveInt},
		{"queue.processing", "AT_QUEUE_PROCESSING", validateEnvPositiveInt},
		{"queue.storage", "AT_QUEUE_STORAGE", validateEnvPositiveInt},
		{"pool.small", "AT_POOL_SMALL", validateEnvPositiveInt},
		{"pool.medium", "AT_POOL_MEDIUM", validateEnvPositiveInt},
		{"pool.large", "AT_POOL_LARGE", validateEnvPositiveInt},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate != nil {
			if envValue := v.GetString(binding.ConfigKey); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvChannels(value string) error {
	switch value {
	case "loopback", "mic", "both":
		return nil
	default:
		return fmt.Errorf(`must be one of "loopback", "mic", "both"`)
	}
}
