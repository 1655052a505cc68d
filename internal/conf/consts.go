// conf/consts.go hard coded constants
package conf

import "time"

const (
	// DefaultSampleRate is the capture sample rate in Hz when --sample-rate is unset.
	DefaultSampleRate = 16000
	// DefaultBitDepth is the bit depth of captured PCM frames.
	DefaultBitDepth = 16
	// DefaultChannels selects which channels are captured by default.
	DefaultChannels = "both"

	// Default per-(stage,channel) queue capacities, per spec default 1000/500/250.
	DefaultCaptureQueue    = 1000
	DefaultProcessingQueue = 500
	DefaultStorageQueue    = 250

	// Default tier caps for the resource pool.
	DefaultPoolSmall  = 256
	DefaultPoolMedium = 128
	DefaultPoolLarge  = 32

	SmallBufferSize  = 4 * 1024
	MediumBufferSize = 64 * 1024
	LargeBufferSize  = 1024 * 1024

	DefaultFlushBytesThresholdPct = 0.8
	DefaultFlushAgeMS             = 1000
	DefaultIdleFlushMS            = 200
	DefaultMaxFlushRetries        = 3

	DefaultThreadTimeout = 10 * time.Second

	// Fixed-MiB staged-cleanup thresholds (§9 open-question resolution: monotonic
	// fixed-MiB shape over percent-of-RAM).
	DefaultPoolSoftMiB      = 64
	DefaultPoolHardMiB      = 128
	DefaultPoolEmergencyMiB = 192

	DefaultAllocationTimeout = 50 * time.Millisecond

	SessionFileName = ".session"
)
