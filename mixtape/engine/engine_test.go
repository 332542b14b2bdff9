package engine

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valerio/go-mixtape/mixtape/device"
	"github.com/valerio/go-mixtape/mixtape/media"
)

// stubDecoder serves a fixed number of constant-valued stereo frames and
// then reports EOF, recording the lifecycle calls the engine makes.
type stubDecoder struct {
	mu      sync.Mutex
	samples []int16
	pos     int

	duration  float64
	started   bool
	paused    bool
	waits     int
	closed    bool
	rangeFrom float64
	rangeTo   float64
}

func newStubDecoder(frames int, value int16) *stubDecoder {
	s := make([]int16, frames*2)
	for i := range s {
		s[i] = value
	}
	return &stubDecoder{samples: s, duration: float64(frames) / 48000}
}

func (d *stubDecoder) SetRange(start, end float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rangeFrom, d.rangeTo = start, end
}

func (d *stubDecoder) WantVideo(mode media.VideoMode) {}

func (d *stubDecoder) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
}

func (d *stubDecoder) Pause(paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = paused
}

func (d *stubDecoder) WaitReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits++
}

func (d *stubDecoder) waitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waits
}

func (d *stubDecoder) ReadAudio(dst []int16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(dst, d.samples[d.pos:])
	d.pos += n
	return n
}

func (d *stubDecoder) Duration() float64 { return d.duration }

func (d *stubDecoder) VideoReady() bool { return true }

func (d *stubDecoder) ReadVideo() *media.Frame { return nil }

func (d *stubDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *stubDecoder) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// stubOpener hands out queued stub decoders, or fresh default ones when
// the queue is empty.
type stubOpener struct {
	mu       sync.Mutex
	queue    []*stubDecoder
	opened   []*stubDecoder
	failNext bool
}

func (o *stubOpener) push(d *stubDecoder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, d)
}

func (o *stubOpener) open(_ io.ReadSeeker, _ string) (media.Decoder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failNext {
		o.failNext = false
		return nil, errors.New("bad media")
	}
	var d *stubDecoder
	if len(o.queue) > 0 {
		d = o.queue[0]
		o.queue = o.queue[1:]
	} else {
		d = newStubDecoder(4800, 8000)
	}
	o.opened = append(o.opened, d)
	return d, nil
}

func newTestEngine(t *testing.T, samples int, opener *stubOpener) (*Engine, *device.Manual) {
	t.Helper()
	e := New()
	dev := device.NewManual()
	cfg := Config{Freq: 48000, Channels: 2, Samples: samples, Open: opener.open}
	require.NoError(t, e.Init(cfg, dev))
	t.Cleanup(func() { e.Quit() })
	return e, dev
}

func TestQueueDepthTransitions(t *testing.T) {
	opener := &stubOpener{}
	e, dev := newTestEngine(t, 1024, opener)

	depth, err := e.QueueDepth(0)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 1, depth)

	require.NoError(t, e.Queue(0, PlaySpec{Name: "B"}))
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 2, depth)

	// Drain A (4800 frames) so B is promoted naturally.
	for i := 0; i < 6; i++ {
		dev.Step()
	}
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 1, depth, "Natural transition should leave only the promoted source")

	require.NoError(t, e.Stop(0))
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 0, depth)
}

func TestQueueOnIdleChannelPlays(t *testing.T) {
	opener := &stubOpener{}
	e, dev := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Queue(0, PlaySpec{Name: "A"}))
	depth, _ := e.QueueDepth(0)
	assert.Equal(t, 1, depth)

	out := dev.Step()
	assert.NotEqual(t, int16(0), out[0], "Queue on an idle channel should play unpaused")
}

func TestPlayingNameAndDuration(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	_, ok, err := e.PlayingName(0)
	require.NoError(t, err)
	assert.False(t, ok)

	dur, err := e.Duration(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dur)

	require.NoError(t, e.Play(0, PlaySpec{Name: "theme.ogg"}))
	name, ok, _ := e.PlayingName(0)
	assert.True(t, ok)
	assert.Equal(t, "theme.ogg", name)

	dur, _ = e.Duration(0)
	assert.InDelta(t, 0.1, dur, 0.001)
}

func TestChannelTableGrowsOnDemand(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(7, PlaySpec{Name: "A"}))
	assert.Len(t, e.channels, 8)

	// Channels created by growth carry the documented defaults.
	c := e.channels[3]
	assert.True(t, c.paused)
	assert.Equal(t, float32(1.0), c.getMixerVolume())
	assert.Equal(t, float32(1.0), c.fade.Read())
	assert.Equal(t, float32(1.0), c.secondaryVolume.Read())
	assert.Equal(t, float32(0.0), c.pan.Read())
	assert.Equal(t, int64(noStop), c.stopSamples)
}

func TestRangeErrorLeavesStateUnchanged(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	err := e.Play(-1, PlaySpec{Name: "A"})
	assert.ErrorIs(t, err, ErrRange)
	kind, msg := e.LastError()
	assert.Equal(t, KindRange, kind)
	assert.NotEmpty(t, msg)
	assert.Empty(t, e.channels)

	_, err = e.QueueDepth(-3)
	assert.ErrorIs(t, err, ErrRange)
}

func TestSoundErrorOnOpenFailure(t *testing.T) {
	opener := &stubOpener{failNext: true}
	e, _ := newTestEngine(t, 1024, opener)

	err := e.Play(0, PlaySpec{Name: "A"})
	assert.ErrorIs(t, err, ErrSound)
	kind, msg := e.LastError()
	assert.Equal(t, KindSound, kind)
	assert.Equal(t, soundErrorMessage, msg)

	depth, _ := e.QueueDepth(0)
	assert.Equal(t, 0, depth, "Failed open should leave the slot absent")

	// A failed replacement also leaves the slot absent, not the old source.
	require.NoError(t, e.Play(0, PlaySpec{Name: "B"}))
	opener.mu.Lock()
	opener.failNext = true
	opener.mu.Unlock()
	err = e.Play(0, PlaySpec{Name: "C"})
	assert.ErrorIs(t, err, ErrSound)
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 0, depth)
}

func TestErrorSlotClearsOnSuccess(t *testing.T) {
	opener := &stubOpener{failNext: true}
	e, _ := newTestEngine(t, 1024, opener)

	_ = e.Play(0, PlaySpec{Name: "A"})
	kind, _ := e.LastError()
	require.Equal(t, KindSound, kind)

	require.NoError(t, e.Play(0, PlaySpec{Name: "B"}))
	kind, msg := e.LastError()
	assert.Equal(t, KindOK, kind)
	assert.Empty(t, msg)
}

func TestDequeueRespectsTightness(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A", Tight: true}))
	require.NoError(t, e.Queue(0, PlaySpec{Name: "B", Tight: true}))

	require.NoError(t, e.Dequeue(0, false))
	depth, _ := e.QueueDepth(0)
	assert.Equal(t, 2, depth, "Dequeue should be a no-op behind a tight playing source")
	assert.False(t, e.channels[0].queued.tight, "Dequeue should still clear the queued tight flag")

	require.NoError(t, e.Dequeue(0, true))
	depth, _ = e.QueueDepth(0)
	assert.Equal(t, 1, depth)
}

func TestDequeueDropsBehindNonTightSource(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	require.NoError(t, e.Queue(0, PlaySpec{Name: "B"}))

	require.NoError(t, e.Dequeue(0, false))
	depth, _ := e.QueueDepth(0)
	assert.Equal(t, 1, depth)
}

func TestStopPostsEndEventOnce(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	require.NoError(t, e.SetEndEvent(0, 42))
	require.NoError(t, e.Stop(0))

	assert.Equal(t, 42, <-e.Events())
	select {
	case tag := <-e.Events():
		t.Fatalf("unexpected extra event %d", tag)
	default:
	}

	// Stopping an idle channel posts nothing.
	require.NoError(t, e.Stop(0))
	select {
	case tag := <-e.Events():
		t.Fatalf("unexpected event %d on idle stop", tag)
	default:
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	opener := &stubOpener{}
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.SetVolume(3, 0.5))
	v, err := e.Volume(3)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 0.0001)
}

func TestUnpauseAllAtStart(t *testing.T) {
	opener := &stubOpener{}
	dec := newStubDecoder(4800, 8000)
	opener.push(dec)
	e, dev := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A", Paused: true}))
	out := dev.Step()
	assert.Equal(t, int16(0), out[0], "Paused channel should mix silence")

	before := dec.waitCount()
	e.UnpauseAllAtStart()
	assert.Equal(t, before+1, dec.waitCount(), "UnpauseAllAtStart should wait for the decoder")
	assert.False(t, dec.paused)

	out = dev.Step()
	assert.NotEqual(t, int16(0), out[0], "Unpaused channel should emit from sample 0")
	pos, _ := e.Position(0)
	assert.InDelta(t, float64(1024)*1000/48000, float64(pos), 1)
}

func TestUnpauseAllSkipsMidStreamPauses(t *testing.T) {
	opener := &stubOpener{}
	dec := newStubDecoder(48000, 8000)
	opener.push(dec)
	e, dev := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	dev.Step()
	require.NoError(t, e.SetPause(0, true))

	before := dec.waitCount()
	e.UnpauseAllAtStart()
	assert.Equal(t, before, dec.waitCount(), "Channels paused mid-stream should be left alone")
	assert.True(t, e.channels[0].paused)
}

func TestDyingListReclaimsReplacedDecoders(t *testing.T) {
	opener := &stubOpener{}
	a := newStubDecoder(4800, 8000)
	b := newStubDecoder(4800, 8000)
	c := newStubDecoder(4800, 8000)
	opener.push(a)
	opener.push(b)
	opener.push(c)
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	require.NoError(t, e.Queue(0, PlaySpec{Name: "B"}))
	require.NoError(t, e.Play(0, PlaySpec{Name: "C"}))

	assert.False(t, a.isClosed(), "Retirement must be deferred to Periodic")
	e.Periodic()
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, c.isClosed())
}

func TestQuitReclaimsEverything(t *testing.T) {
	opener := &stubOpener{}
	a := newStubDecoder(4800, 8000)
	b := newStubDecoder(4800, 8000)
	opener.push(a)
	opener.push(b)
	e, _ := newTestEngine(t, 1024, opener)

	require.NoError(t, e.Play(0, PlaySpec{Name: "A"}))
	require.NoError(t, e.Queue(1, PlaySpec{Name: "B"}))

	require.NoError(t, e.Quit())
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Nil(t, e.channels, "No channel survives Quit")
}

func TestSampleArithmeticRoundTrip(t *testing.T) {
	e := &Engine{freq: 48000}
	for n := int64(1); n <= 1<<30; n = n*3 + 1 {
		back := e.msToSamples(e.samplesToMS(n))
		assert.InDelta(t, float64(n), float64(back), 1, "round-trip of %d samples", n)
	}
}

func TestConcurrentControlAndMix(t *testing.T) {
	opener := &stubOpener{}
	e, dev := newTestEngine(t, 256, opener)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			dev.Step()
		}
	}()

	for i := 0; i < 200; i++ {
		_ = e.Play(i%4, PlaySpec{Name: "A", Tight: i%2 == 0})
		_ = e.Queue(i%4, PlaySpec{Name: "B"})
		_ = e.SetVolume(i%4, 0.5)
		_, _ = e.QueueDepth(i % 4)
		_, _, _ = e.PlayingName(i % 4)
		_, _ = e.Position(i % 4)
		_ = e.Fadeout(i%4, 10)
		_ = e.Stop(i % 4)
		e.Periodic()
	}
	<-done
}
