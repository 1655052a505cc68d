// conf/defaults.go default values for settings
package conf

// DefaultSettings returns a Settings tree populated purely from the compiled-in
// constants, used as a last-resort fallback if the embedded config cannot be
// parsed (should not happen in a built binary, but guards against a corrupt
// on-disk override file breaking startup entirely).
func DefaultSettings() *Settings {
	s := &Settings{}
	s.Main.WorkingDir = "./data"
	s.Main.Log.Enabled = true
	s.Main.Log.Path = "logs/app.log"
	s.Main.Log.Rotation = RotationDaily

	s.Capture.Channels = DefaultChannels
	s.Capture.SampleRate = DefaultSampleRate

	s.Queue.Capture = DefaultCaptureQueue
	s.Queue.Processing = DefaultProcessingQueue
	s.Queue.Storage = DefaultStorageQueue

	s.Pool.Small = DefaultPoolSmall
	s.Pool.Medium = DefaultPoolMedium
	s.Pool.Large = DefaultPoolLarge
	s.Pool.SoftMiB = DefaultPoolSoftMiB
	s.Pool.HardMiB = DefaultPoolHardMiB
	s.Pool.EmergencyMiB = DefaultPoolEmergencyMiB
	s.Pool.AllocTimeoutMS = int(DefaultAllocationTimeout.Milliseconds())

	s.Flush.BytesThresholdPct = DefaultFlushBytesThresholdPct
	s.Flush.AgeMS = DefaultFlushAgeMS
	s.Flush.IdleMS = DefaultIdleFlushMS
	s.Flush.MaxRetries = DefaultMaxFlushRetries

	s.Component.ThreadTimeoutMS = int(DefaultThreadTimeout.Milliseconds())

	s.Telemetry.Enabled = false
	s.Telemetry.Listen = "127.0.0.1:9090"

	return s
}
