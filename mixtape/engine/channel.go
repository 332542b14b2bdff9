package engine

import (
	"math"
	"sync/atomic"

	"github.com/valerio/go-mixtape/mixtape/media"
)

// VideoMode selects how a channel treats video frames produced by its
// decoder.
type VideoMode int32

const (
	// VideoOff marks an audio-only channel.
	VideoOff VideoMode = iota
	// VideoDrop marks a video channel that drops late frames.
	VideoDrop
	// VideoNoDrop marks a video channel that never drops frames.
	VideoNoDrop
)

// source is one of the two media slots a channel carries (playing and
// queued). The channel exclusively owns the decoder handle and the display
// name; handing the decoder back is always deferred through the dying list.
type source struct {
	dec      media.Decoder
	name     string
	fadeinMS int
	tight    bool
	// startMS is the offset into the media where playback began, used to
	// report an absolute position.
	startMS        int
	relativeVolume float32
}

// noStop is the stopSamples value meaning no hard stop is scheduled.
const noStop = -1

// channel is a single mixer strip. Everything here except the atomics is
// guarded by the engine's audio lock; slot identity (the playing/queued
// pointers and names) is additionally readable under the name lock.
type channel struct {
	playing *source
	queued  *source

	paused bool

	// mixerVolume, event and video are single-word fields the control
	// thread writes and reads without taking the audio lock.
	mixerVolume atomic.Uint32 // float32 bits
	event       atomic.Int32
	video       atomic.Int32

	secondaryVolume Envelope
	pan             Envelope
	fade            Envelope

	// pos counts samples consumed from the playing source since its
	// start. Written by the mixer, read lock-free by position queries.
	pos atomic.Int64
	// stopSamples counts down per mixed sample once a hard stop is
	// scheduled; reaching 0 ends the playing source as if the decoder had
	// hit EOF.
	stopSamples int64
}

func newChannel() *channel {
	c := &channel{
		paused:      true,
		stopSamples: noStop,
	}
	c.setMixerVolume(1.0)
	c.fade.Init(1.0)
	c.secondaryVolume.Init(1.0)
	c.pan.Init(0.0)
	return c
}

func (c *channel) setMixerVolume(v float32) {
	c.mixerVolume.Store(math.Float32bits(v))
}

func (c *channel) getMixerVolume() float32 {
	return math.Float32frombits(c.mixerVolume.Load())
}
