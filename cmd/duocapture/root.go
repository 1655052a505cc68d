// root.go viper root command code
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinyclue/duocapture/internal/conf"
	"github.com/tinyclue/duocapture/internal/logging"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "duocapture",
		Short: "Two-channel capture, processing, and storage pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Debug {
				logging.SetLevel(logging.LevelTrace)
			}
			return runRealtime(settings)
		},
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	return rootCmd
}

// setupFlags defines the §6 CLI surface. Each flag defaults to the value
// already loaded into settings (embedded defaults, on-disk config, AT_*
// environment variables) and writes into settings when given, so a flag on
// the command line overrides the environment variable for the same setting.
// The flags are also bound to the global viper instance; conf.Load uses its
// own viper instance and does not read them.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	cmd.PersistentFlags().StringVar(&settings.Main.WorkingDir, "working-dir", settings.Main.WorkingDir, "Root of recordings, logs, and emergency backups")
	cmd.PersistentFlags().StringVar(&settings.Capture.Channels, "channels", settings.Capture.Channels, "Channels to capture: loopback, mic, or both")
	cmd.PersistentFlags().IntVar(&settings.Capture.SampleRate, "sample-rate", settings.Capture.SampleRate, "Capture sample rate in Hz")

	cmd.PersistentFlags().IntVar(&settings.Queue.Capture, "capture-queue", settings.Queue.Capture, "Capture-stage queue capacity")
	cmd.PersistentFlags().IntVar(&settings.Queue.Processing, "processing-queue", settings.Queue.Processing, "Processing-stage queue capacity")
	cmd.PersistentFlags().IntVar(&settings.Queue.Storage, "storage-queue", settings.Queue.Storage, "Storage-stage queue capacity")

	cmd.PersistentFlags().IntVar(&settings.Pool.Small, "pool-small", settings.Pool.Small, "Small-tier buffer pool cap")
	cmd.PersistentFlags().IntVar(&settings.Pool.Medium, "pool-medium", settings.Pool.Medium, "Medium-tier buffer pool cap")
	cmd.PersistentFlags().IntVar(&settings.Pool.Large, "pool-large", settings.Pool.Large, "Large-tier buffer pool cap")

	cmd.PersistentFlags().Float64Var(&settings.Flush.BytesThresholdPct, "flush-bytes", settings.Flush.BytesThresholdPct, "Flush trigger: fraction of channel buffer capacity")
	cmd.PersistentFlags().IntVar(&settings.Flush.AgeMS, "flush-age-ms", settings.Flush.AgeMS, "Flush trigger: oldest-entry age in milliseconds")
	cmd.PersistentFlags().IntVar(&settings.Flush.IdleMS, "idle-flush-ms", settings.Flush.IdleMS, "Flush trigger: storage-queue idle duration in milliseconds")

	cmd.PersistentFlags().IntVar(&settings.Component.ThreadTimeoutMS, "thread-timeout-ms", settings.Component.ThreadTimeoutMS, "Worker heartbeat liveness timeout in milliseconds")

	cmd.PersistentFlags().BoolVar(&settings.Telemetry.Enabled, "telemetry", settings.Telemetry.Enabled, "Expose a Prometheus /metrics endpoint")
	cmd.PersistentFlags().StringVar(&settings.Telemetry.Listen, "telemetry-listen", settings.Telemetry.Listen, "Address for the telemetry endpoint")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
