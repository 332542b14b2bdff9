package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/valerio/go-mixtape/mixtape/device"
	"github.com/valerio/go-mixtape/mixtape/media"
)

// Engine is a multi-channel real-time audio mixing engine. It owns a
// fixed-rate stereo int16 output stream and an indexed, growable set of
// logical channels, each carrying at most one playing and one queued
// source. The device invokes Mix to fill every output buffer.
//
// Two locks separate the control thread from the mixer:
//
//   - the audio lock serializes every state mutation against the Mix
//     callback. It is coarse and short-held, never across a decoder open
//     or wait.
//   - the name lock guards slot identity (the playing/queued pointers and
//     names) and the dying list, so identity reads and Periodic sweeps do
//     not stall the callback.
//
// The audio lock is never acquired while holding the name lock.
type Engine struct {
	audioMu sync.Mutex
	nameMu  sync.Mutex

	channels []*channel
	dying    *dyingNode

	freq    int
	samples int
	open    media.OpenFunc
	dev     device.Device
	events  chan int

	initialized bool

	accum   []float32
	scratch []int16

	errSlot errorSlot
}

// Config holds the parameters the engine is initialized with.
type Config struct {
	// Freq is the output sample rate in Hz. Defaults to 48000.
	Freq int
	// Channels is the output channel count and must be 2.
	Channels int
	// Samples is the device buffer size in frames. Defaults to 1024.
	Samples int
	// Status and EqualMono pass through to the decoder layer.
	Status    bool
	EqualMono bool
	// Open creates decoders for Play and Queue. Defaults to media.Open.
	Open media.OpenFunc
}

// PlaySpec describes a media source handed to Play or Queue.
type PlaySpec struct {
	Source io.ReadSeeker
	// Ext is the format hint, a file extension without the dot.
	Ext  string
	Name string
	// FadeinMS fades the source in over this many milliseconds. On a
	// queued source a nonzero fade-in overrides the predecessor's
	// tightness.
	FadeinMS int
	// Tight makes the follow-on source continue without a restart-style
	// fade-in when this source ends.
	Tight bool
	// Paused starts the channel paused. Ignored by Queue.
	Paused bool
	// StartSecs and EndSecs confine playback to a window of the media.
	StartSecs float64
	EndSecs   float64
	// RelativeVolume scales this source. Zero is treated as 1.
	RelativeVolume float64
}

const eventQueueSize = 64

// New creates an engine. Call Init before use.
func New() *Engine {
	return &Engine{events: make(chan int, eventQueueSize)}
}

// Init opens the audio device, records the output rate and starts the
// callback. The engine is a singleton bound to one device; Init after a
// successful Init requires an intervening Quit.
func (e *Engine) Init(cfg Config, dev device.Device) error {
	e.errSlot.clear()
	if e.initialized {
		return fmt.Errorf("engine already initialized")
	}
	if cfg.Freq <= 0 {
		cfg.Freq = 48000
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 1024
	}
	if cfg.Channels != 2 {
		msg := fmt.Sprintf("output must be stereo, got %d channels", cfg.Channels)
		e.errSlot.set(KindDevice, msg)
		return fmt.Errorf("%w: %s", ErrDevice, msg)
	}

	media.Init(cfg.Freq, cfg.Status, cfg.EqualMono)

	e.freq = cfg.Freq
	e.samples = cfg.Samples
	e.open = cfg.Open
	if e.open == nil {
		e.open = media.Open
	}
	e.accum = make([]float32, cfg.Samples*2)
	e.scratch = make([]int16, cfg.Samples*2)

	devCfg := device.Config{Freq: cfg.Freq, Channels: 2, Samples: cfg.Samples}
	if err := dev.Open(devCfg, e.Mix); err != nil {
		e.errSlot.set(KindDevice, err.Error())
		return fmt.Errorf("%w: %v", ErrDevice, err)
	}
	e.dev = dev
	e.initialized = true
	dev.Pause(false)

	slog.Info("Audio engine initialized", "freq", cfg.Freq, "buffer_frames", cfg.Samples)
	return nil
}

// Quit pauses the device, stops all channels, closes the device and
// resets the channel table. No channel survives Quit.
func (e *Engine) Quit() error {
	e.errSlot.clear()
	if !e.initialized {
		return nil
	}
	e.dev.Pause(true)

	e.audioMu.Lock()
	for _, c := range e.channels {
		e.stopLocked(c)
	}
	e.nameMu.Lock()
	e.channels = nil
	e.nameMu.Unlock()
	e.audioMu.Unlock()

	e.Periodic()

	err := e.dev.Close()
	e.dev = nil
	e.initialized = false
	slog.Info("Audio engine shut down")
	if err != nil {
		return fmt.Errorf("closing audio device: %w", err)
	}
	return nil
}

// Events returns the host event queue. The tag of a channel whose playing
// source terminates is posted here; posts never block, late events are
// dropped once the queue is full.
func (e *Engine) Events() <-chan int {
	return e.events
}

func (e *Engine) postEvent(tag int) {
	select {
	case e.events <- tag:
	default:
	}
}

// ensureLocked admits idx into the channel table, growing it on demand.
// The audio lock must be held: the Mix callback reads the table, and the
// slice header swap is published under the name lock for identity readers.
func (e *Engine) ensureLocked(idx int) (*channel, error) {
	if !e.initialized {
		return nil, errNotInitialized
	}
	if idx < 0 {
		msg := fmt.Sprintf("channel %d out of range", idx)
		e.errSlot.set(KindRange, msg)
		return nil, fmt.Errorf("%w: %d", ErrRange, idx)
	}
	if idx >= len(e.channels) {
		grown := make([]*channel, idx+1)
		copy(grown, e.channels)
		for i := len(e.channels); i <= idx; i++ {
			grown[i] = newChannel()
		}
		e.nameMu.Lock()
		e.channels = grown
		e.nameMu.Unlock()
	}
	return e.channels[idx], nil
}

func (e *Engine) ensure(idx int) (*channel, error) {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	return e.ensureLocked(idx)
}

// Play replaces whatever the channel is doing with the given source. The
// existing sources are retired immediately; the decoder open and the wait
// for its first output happen outside both locks, and the ready source is
// then swapped into the playing slot atomically. The mixer never observes
// a source that cannot produce audio without waiting.
func (e *Engine) Play(ch int, spec PlaySpec) error {
	e.errSlot.clear()

	e.audioMu.Lock()
	c, err := e.ensureLocked(ch)
	if err != nil {
		e.audioMu.Unlock()
		return err
	}
	e.freeSlotsLocked(c)
	e.audioMu.Unlock()

	src, err := e.openSource(c, spec)
	if err != nil {
		e.errSlot.set(KindSound, err.Error())
		return fmt.Errorf("%w: %v", ErrSound, err)
	}
	src.dec.WaitReady()

	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	if !e.initialized {
		src.dec.Close()
		return errNotInitialized
	}
	// A concurrent Play may have raced the open; last call wins.
	e.freeSlotsLocked(c)
	e.nameMu.Lock()
	c.playing = src
	e.nameMu.Unlock()
	c.paused = spec.Paused
	e.startStream(c, true)
	return nil
}

// Queue schedules the source to follow the channel's playing one; on a
// channel that is idle by the time the source is ready it starts playing
// unpaused. Like Play, the decoder open and readiness wait happen outside
// both locks.
func (e *Engine) Queue(ch int, spec PlaySpec) error {
	e.errSlot.clear()

	e.audioMu.Lock()
	c, err := e.ensureLocked(ch)
	if err != nil {
		e.audioMu.Unlock()
		return err
	}
	e.nameMu.Lock()
	if c.queued != nil {
		e.pushDyingLocked(c.queued.dec)
		c.queued = nil
	}
	e.nameMu.Unlock()
	e.audioMu.Unlock()

	src, err := e.openSource(c, spec)
	if err != nil {
		e.errSlot.set(KindSound, err.Error())
		return fmt.Errorf("%w: %v", ErrSound, err)
	}
	src.dec.WaitReady()

	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	if !e.initialized {
		src.dec.Close()
		return errNotInitialized
	}
	e.nameMu.Lock()
	if c.playing == nil {
		c.playing = src
		e.nameMu.Unlock()
		c.paused = false
		e.startStream(c, true)
		return nil
	}
	if c.queued != nil {
		e.pushDyingLocked(c.queued.dec)
	}
	c.queued = src
	e.nameMu.Unlock()
	return nil
}

// freeSlotsLocked retires both of the channel's sources onto the dying
// list. Callers must hold the audio lock.
func (e *Engine) freeSlotsLocked(c *channel) {
	e.nameMu.Lock()
	if c.playing != nil {
		e.pushDyingLocked(c.playing.dec)
		c.playing = nil
	}
	if c.queued != nil {
		e.pushDyingLocked(c.queued.dec)
		c.queued = nil
	}
	e.nameMu.Unlock()
}

func (e *Engine) openSource(c *channel, spec PlaySpec) (*source, error) {
	dec, err := e.open(spec.Source, spec.Ext)
	if err != nil {
		return nil, err
	}
	if spec.StartSecs != 0 || spec.EndSecs != 0 {
		dec.SetRange(spec.StartSecs, spec.EndSecs)
	}
	if mode := VideoMode(c.video.Load()); mode != VideoOff {
		dec.WantVideo(media.VideoMode(mode))
	}
	dec.Start()

	rv := float32(spec.RelativeVolume)
	if rv == 0 {
		rv = 1.0
	}
	return &source{
		dec:            dec,
		name:           spec.Name,
		fadeinMS:       spec.FadeinMS,
		tight:          spec.Tight,
		startMS:        int(spec.StartSecs * 1000),
		relativeVolume: rv,
	}, nil
}

// startStream begins playback of the channel's playing source. The
// position and any scheduled hard stop always reset; with resetFade the
// fade envelope additionally ramps 0..1 over the source's fade-in, while
// a tight hand-off keeps the predecessor's fade.
func (e *Engine) startStream(c *channel, resetFade bool) {
	c.pos.Store(0)
	c.stopSamples = noStop
	if resetFade {
		c.fade.Init(0)
		c.fade.Retarget(1, uint64(e.msToSamples(float64(c.playing.fadeinMS))))
	}
}

// Stop ends the channel immediately, posting its end event if something
// was playing and releasing both slots.
func (e *Engine) Stop(ch int) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	e.stopLocked(c)
	return nil
}

func (e *Engine) stopLocked(c *channel) {
	if c.playing != nil {
		if tag := c.event.Load(); tag != 0 {
			e.postEvent(int(tag))
		}
	}
	e.freeSlotsLocked(c)
	c.stopSamples = noStop
}

// Dequeue drops the queued source. A tight playing source keeps its
// queued follow-on unless evenTight is set; either way the queued
// source's own tight flag is cleared when it stays.
func (e *Engine) Dequeue(ch int, evenTight bool) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	if c.queued == nil {
		return nil
	}
	playingTight := c.playing != nil && c.playing.tight
	if !playingTight || evenTight {
		e.nameMu.Lock()
		e.pushDyingLocked(c.queued.dec)
		c.queued = nil
		e.nameMu.Unlock()
	} else {
		c.queued.tight = false
	}
	return nil
}

// Fadeout ramps the channel to silence over ms milliseconds and then ends
// the playing source as if it had reached EOF. A zero ms stops on the
// next mixed sample.
func (e *Engine) Fadeout(ch int, ms int) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	if c.playing == nil {
		return nil
	}
	if ms <= 0 {
		c.stopSamples = 0
		return nil
	}
	n := e.msToSamples(float64(ms))
	c.fade.Retarget(0, uint64(n))
	c.stopSamples = n
	if c.queued != nil {
		c.queued.tight = false
	} else {
		c.playing.tight = false
	}
	return nil
}

// SetPause pauses or resumes the channel and forwards the state to its
// decoder.
func (e *Engine) SetPause(ch int, paused bool) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	c.paused = paused
	if c.playing != nil {
		c.playing.dec.Pause(paused)
	}
	return nil
}

// UnpauseAllAtStart unpauses every channel that is paused at the very
// start of its playing source, waiting first for each decoder to become
// ready. The waits happen outside both engine locks and may block.
func (e *Engine) UnpauseAllAtStart() {
	e.errSlot.clear()

	type pending struct {
		c   *channel
		dec media.Decoder
	}
	var waits []pending

	e.audioMu.Lock()
	for _, c := range e.channels {
		if c.playing != nil && c.paused && c.pos.Load() == 0 {
			waits = append(waits, pending{c, c.playing.dec})
		}
	}
	e.audioMu.Unlock()

	for _, w := range waits {
		w.dec.WaitReady()
	}

	e.audioMu.Lock()
	for _, w := range waits {
		if w.c.playing != nil && w.c.playing.dec == w.dec && w.c.paused {
			w.c.paused = false
			w.dec.Pause(false)
		}
	}
	e.audioMu.Unlock()
}

// QueueDepth reports how many of the channel's two slots are occupied.
func (e *Engine) QueueDepth(ch int) (int, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return 0, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	depth := 0
	if c.playing != nil {
		depth++
	}
	if c.queued != nil {
		depth++
	}
	return depth, nil
}

// PlayingName returns the display name of the playing source, if any.
func (e *Engine) PlayingName(ch int) (string, bool, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return "", false, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	if c.playing == nil {
		return "", false, nil
	}
	return c.playing.name, true, nil
}

// Position reports the absolute playback position in milliseconds, or -1
// when nothing is playing.
func (e *Engine) Position(ch int) (int64, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return -1, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	if c.playing == nil {
		return -1, nil
	}
	return int64(e.samplesToMS(c.pos.Load())) + int64(c.playing.startMS), nil
}

// Duration reports the playing source's total length in seconds, or 0
// when nothing is playing.
func (e *Engine) Duration(ch int) (float64, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return 0, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	if c.playing == nil {
		return 0, nil
	}
	return c.playing.dec.Duration(), nil
}

// SetEndEvent sets the tag posted to the host event queue when the
// channel's playing source terminates. Zero disables posting.
func (e *Engine) SetEndEvent(ch int, tag int) error {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return err
	}
	c.event.Store(int32(tag))
	return nil
}

// SetVolume sets the channel's mixer volume.
func (e *Engine) SetVolume(ch int, volume float64) error {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return err
	}
	c.setMixerVolume(float32(volume))
	return nil
}

// Volume returns the channel's mixer volume.
func (e *Engine) Volume(ch int) (float64, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return 0, err
	}
	return float64(c.getMixerVolume()), nil
}

// SetPan retargets the channel's pan envelope (-1 full left, +1 full
// right) over delaySecs seconds.
func (e *Engine) SetPan(ch int, pan, delaySecs float64) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	c.pan.Retarget(float32(pan), uint64(e.secondsToSamples(delaySecs)))
	return nil
}

// SetSecondaryVolume retargets the channel's secondary volume envelope
// over delaySecs seconds.
func (e *Engine) SetSecondaryVolume(ch int, volume, delaySecs float64) error {
	e.errSlot.clear()
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	c, err := e.ensureLocked(ch)
	if err != nil {
		return err
	}
	c.secondaryVolume.Retarget(float32(volume), uint64(e.secondsToSamples(delaySecs)))
	return nil
}

// SetVideo sets the channel's video mode, applied to subsequent opens.
func (e *Engine) SetVideo(ch int, mode VideoMode) error {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return err
	}
	c.video.Store(int32(mode))
	return nil
}

// ReadVideo returns the playing source's next video frame, or nil.
func (e *Engine) ReadVideo(ch int) (*media.Frame, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return nil, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	if c.playing == nil {
		return nil, nil
	}
	return c.playing.dec.ReadVideo(), nil
}

// VideoReady reports whether a video frame can be read without blocking.
// An idle channel is always ready.
func (e *Engine) VideoReady(ch int) (bool, error) {
	e.errSlot.clear()
	c, err := e.ensure(ch)
	if err != nil {
		return true, err
	}
	e.nameMu.Lock()
	defer e.nameMu.Unlock()
	if c.playing == nil {
		return true, nil
	}
	return c.playing.dec.VideoReady(), nil
}

func (e *Engine) msToSamples(ms float64) int64 {
	return int64(ms * float64(e.freq) / 1000)
}

func (e *Engine) samplesToMS(samples int64) float64 {
	return float64(samples) * 1000 / float64(e.freq)
}

func (e *Engine) secondsToSamples(secs float64) int64 {
	return int64(secs * float64(e.freq))
}
