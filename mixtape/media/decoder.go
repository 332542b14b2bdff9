package media

import (
	"io"
	"sync"
	"time"
)

// VideoMode selects video frame production for a decoder.
type VideoMode int

const (
	// VideoOff produces no video frames.
	VideoOff VideoMode = iota
	// VideoDrop produces video frames, dropping late ones.
	VideoDrop
	// VideoNoDrop produces every video frame regardless of lateness.
	VideoNoDrop
)

// Frame is a single decoded video frame.
type Frame struct {
	Width  int
	Height int
	Stride int
	// Pixels is packed per the layout registered with SampleSurfaces.
	Pixels   []byte
	HasAlpha bool
	// PTS is the presentation time in seconds from the start of the media.
	PTS float64
}

// Decoder turns a read-only byte source into interleaved stereo signed-16
// host-endian PCM at the engine's configured sample rate, plus optional
// video frames. The mixing engine consumes decoders through this interface
// and never resamples: delivering at the configured rate is the decoder's
// contract.
//
// Lifecycle: configure with SetRange/WantVideo before Start, then Start
// begins background decoding. ReadAudio is called from the audio thread;
// Close may join goroutines and must never be called from it.
type Decoder interface {
	// SetRange confines playback to [start, end] seconds. An end of 0
	// means until EOF. Call before Start.
	SetRange(start, end float64)

	// WantVideo enables video frame production. Call before Start.
	WantVideo(mode VideoMode)

	// Start begins background decoding.
	Start()

	// Pause suspends or resumes decoding.
	Pause(paused bool)

	// WaitReady blocks until the first output is available (or the
	// decoder has failed or reached EOF).
	WaitReady()

	// ReadAudio fills dst with interleaved stereo samples and returns the
	// number of int16 values written. A return of 0 means EOF.
	ReadAudio(dst []int16) int

	// Duration reports the total length of the media in seconds.
	Duration() float64

	// VideoReady reports whether a video frame can be read without
	// blocking.
	VideoReady() bool

	// ReadVideo returns the next video frame, or nil if none is due.
	ReadVideo() *Frame

	// Close releases the decoder. Safe to call once, from the control
	// thread only.
	Close() error
}

// OpenFunc creates a decoder over a byte source, using ext as a format
// hint (file extension, without the dot).
type OpenFunc func(src io.ReadSeeker, ext string) (Decoder, error)

// Engine-wide decoder configuration, set once at engine init.

var (
	configMu   sync.Mutex
	sampleRate = 44100
	showStatus bool
	equalMono  bool

	surfaceRGB  Frame
	surfaceRGBA Frame

	frameTimeMu sync.Mutex
	frameTime   time.Time
)

// Init records the engine-wide decoder configuration: the output sample
// rate every decoder must deliver at, whether to log per-stream status,
// and how mono sources are balanced across the stereo pair.
func Init(rate int, status, equalMonoMix bool) {
	configMu.Lock()
	defer configMu.Unlock()
	if rate > 0 {
		sampleRate = rate
	}
	showStatus = status
	equalMono = equalMonoMix
}

// SampleRate returns the configured output rate in Hz.
func SampleRate() int {
	configMu.Lock()
	defer configMu.Unlock()
	return sampleRate
}

// Status reports whether decoders should log per-stream status.
func Status() bool {
	configMu.Lock()
	defer configMu.Unlock()
	return showStatus
}

// EqualMono reports whether mono sources are mixed at equal power rather
// than copied verbatim into both channels.
func EqualMono() bool {
	configMu.Lock()
	defer configMu.Unlock()
	return equalMono
}

// SampleSurfaces registers the pixel layouts video frames are produced in:
// one sample frame without and one with an alpha channel. Only the layout
// fields (stride per pixel, alpha) of the samples are consulted.
func SampleSurfaces(rgb, rgba Frame) {
	configMu.Lock()
	defer configMu.Unlock()
	surfaceRGB = rgb
	surfaceRGBA = rgba
}

// FrameLayout returns the registered sample layout for frames with or
// without alpha.
func FrameLayout(hasAlpha bool) Frame {
	configMu.Lock()
	defer configMu.Unlock()
	if hasAlpha {
		return surfaceRGBA
	}
	return surfaceRGB
}

// AdvanceTime marks the start of a host frame. Video-producing decoders
// compare frame PTS against this clock to decide whether a frame is late.
func AdvanceTime() {
	frameTimeMu.Lock()
	frameTime = time.Now()
	frameTimeMu.Unlock()
}

// FrameTime returns the clock recorded by the last AdvanceTime call.
func FrameTime() time.Time {
	frameTimeMu.Lock()
	defer frameTimeMu.Unlock()
	return frameTime
}
