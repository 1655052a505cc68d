package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyclue/duocapture/internal/conf"
)

func TestSetupFlags_OverridesSettingsFromArgs(t *testing.T) {
	settings := conf.DefaultSettings()
	cmd := RootCommand(settings)
	cmd.RunE = nil // exercise flag parsing only, not the realtime runner

	cmd.SetArgs([]string{
		"--working-dir", "/tmp/duocapture-test",
		"--channels", "mic",
		"--sample-rate", "44100",
		"--pool-small", "64",
		"--telemetry",
	})
	require.NoError(t, cmd.Execute())

	require.Equal(t, "/tmp/duocapture-test", settings.Main.WorkingDir)
	require.Equal(t, "mic", settings.Capture.Channels)
	require.Equal(t, 44100, settings.Capture.SampleRate)
	require.Equal(t, 64, settings.Pool.Small)
	require.True(t, settings.Telemetry.Enabled)
}
