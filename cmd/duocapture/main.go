// Command duocapture runs the two-channel capture/processing/storage
// pipeline fabric.
package main

import (
	"fmt"
	"os"

	"github.com/tinyclue/duocapture/internal/conf"
	"github.com/tinyclue/duocapture/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "duocapture: failed to load configuration, falling back to defaults: %v\n", err)
		settings = conf.DefaultSettings()
	}
	conf.SetSetting(settings)

	logging.Init()
	if settings.Debug {
		logging.SetLevel(logging.LevelTrace)
	}

	rootCmd := RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		logging.Error("duocapture: command failed", "error", err)
		os.Exit(2)
	}
}
