package device

// Callback fills out with interleaved stereo int16 frames. The engine's
// callback acquires the audio lock itself, so a device only has to invoke
// it from a single goroutine at a time.
type Callback func(out []int16)

// Config holds the stream parameters a device is opened with.
type Config struct {
	// Freq is the sample rate in Hz.
	Freq int
	// Channels is the output channel count (the engine requires 2).
	Channels int
	// Samples is the buffer size in frames per callback.
	Samples int
}

// Device is an audio output a mixing engine renders into. Implementations
// invoke the callback whenever they need a buffer of samples.
type Device interface {
	// Open prepares the device and registers the render callback. The
	// device starts paused.
	Open(cfg Config, cb Callback) error

	// Pause suspends or resumes callback invocations.
	Pause(paused bool)

	// Close releases the device.
	Close() error
}
