package media

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// readAhead is the decode-ahead buffer size in int16 values (stereo
// interleaved), about a third of a second at 48kHz.
const readAhead = 32768

// fillChunk is how many frames the decode goroutine pulls per iteration.
const fillChunk = 512

// Open creates a decoder over src using beep's codecs, resampled to the
// engine rate when the file rate differs. The ext hint picks the codec;
// with an unknown hint every codec is tried in turn.
func Open(src io.ReadSeeker, ext string) (Decoder, error) {
	stream, format, err := decode(src, ext)
	if err != nil {
		return nil, err
	}

	d := &beepDecoder{
		stream:    stream,
		format:    format,
		remaining: -1,
		duration:  float64(stream.Len()) / float64(format.SampleRate),
	}
	d.cond = sync.NewCond(&d.mu)
	d.chain = buildChain(stream, format)

	if Status() {
		slog.Info("Opened media stream",
			"ext", ext,
			"rate", int(format.SampleRate),
			"channels", format.NumChannels,
			"duration_secs", d.duration)
	}
	return d, nil
}

func decode(src io.ReadSeeker, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	switch normalizeExt(ext) {
	case "mp3":
		return mp3.Decode(src)
	case "wav":
		return wav.Decode(src)
	case "flac":
		return flac.Decode(src)
	case "ogg", "oga", "vorbis":
		return vorbis.Decode(src)
	}

	// Unknown hint: rewind and try every codec.
	codecs := []struct {
		name   string
		decode func(io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error)
	}{
		{"wav", func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(r) }},
		{"flac", func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(r) }},
		{"ogg", func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(r) }},
		{"mp3", func(r io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(r) }},
	}
	for _, c := range codecs {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, beep.Format{}, err
		}
		if stream, format, err := c.decode(src); err == nil {
			return stream, format, nil
		}
	}
	return nil, beep.Format{}, fmt.Errorf("unsupported media format %q", ext)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// buildChain wraps the raw stream with the mono balance and the resampler
// to the engine rate. The mixer never resamples; this is where the rate
// contract is met.
func buildChain(stream beep.StreamSeekCloser, format beep.Format) beep.Streamer {
	var chain beep.Streamer = stream
	if format.NumChannels == 1 && EqualMono() {
		chain = &effects.Gain{Streamer: chain, Gain: 1/math.Sqrt2 - 1}
	}
	if target := beep.SampleRate(SampleRate()); format.SampleRate != target {
		chain = beep.Resample(4, format.SampleRate, target, chain)
	}
	return chain
}

// beepDecoder satisfies Decoder with a background goroutine that keeps a
// decode-ahead buffer filled, so ReadAudio on the audio thread normally
// only copies; it waits only when the buffer is empty before EOF. It
// produces no video.
type beepDecoder struct {
	mu   sync.Mutex
	cond *sync.Cond

	stream beep.StreamSeekCloser
	format beep.Format
	chain  beep.Streamer

	buf  []int16
	head int

	// remaining counts frames (at the engine rate) until the range end;
	// -1 means until EOF.
	remaining int64
	duration  float64

	started bool
	paused  bool
	ready   bool
	eof     bool
	closed  bool
	done    chan struct{}
}

func (d *beepDecoder) SetRange(start, end float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if start > 0 {
		n := d.format.SampleRate.N(time.Duration(start * float64(time.Second)))
		if err := d.stream.Seek(n); err != nil {
			slog.Warn("Failed to seek media stream", "start_secs", start, "error", err)
		}
	}
	if end > start {
		d.remaining = int64((end - start) * float64(SampleRate()))
	}
}

func (d *beepDecoder) WantVideo(mode VideoMode) {}

func (d *beepDecoder) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.done = make(chan struct{})
	go d.fill()
}

// fill decodes ahead into the buffer until EOF, the range end, or Close.
func (d *beepDecoder) fill() {
	defer close(d.done)

	chunk := make([][2]float64, fillChunk)
	for {
		d.mu.Lock()
		for (d.buffered() >= readAhead || d.paused) && !d.closed {
			d.cond.Wait()
		}
		if d.closed || d.eof {
			d.mu.Unlock()
			return
		}
		want := int64(len(chunk))
		if d.remaining >= 0 && d.remaining < want {
			want = d.remaining
		}
		d.mu.Unlock()

		var n int
		var ok bool
		if want > 0 {
			n, ok = d.chain.Stream(chunk[:want])
		}

		d.mu.Lock()
		for i := 0; i < n; i++ {
			d.buf = append(d.buf, pcm16(chunk[i][0]), pcm16(chunk[i][1]))
		}
		if d.remaining >= 0 {
			d.remaining -= int64(n)
		}
		if want == 0 || !ok {
			d.eof = true
			if err := d.stream.Err(); err != nil {
				slog.Warn("Media stream ended with error", "error", err)
			}
		}
		d.ready = true
		d.cond.Broadcast()
		d.mu.Unlock()

		if want == 0 || !ok {
			return
		}
	}
}

func pcm16(v float64) int16 {
	s := v * 32767
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}

func (d *beepDecoder) buffered() int {
	return len(d.buf) - d.head
}

func (d *beepDecoder) Pause(paused bool) {
	d.mu.Lock()
	d.paused = paused
	d.cond.Broadcast()
	d.mu.Unlock()
}

func (d *beepDecoder) WaitReady() {
	d.mu.Lock()
	for !d.ready && d.started && !d.closed {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

func (d *beepDecoder) ReadAudio(dst []int16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return 0
	}
	for d.buffered() == 0 && !d.eof && !d.closed {
		d.cond.Wait()
	}
	n := copy(dst, d.buf[d.head:])
	d.head += n
	if d.head >= readAhead {
		d.buf = append(d.buf[:0], d.buf[d.head:]...)
		d.head = 0
	}
	d.cond.Broadcast()
	return n
}

func (d *beepDecoder) Duration() float64 {
	return d.duration
}

func (d *beepDecoder) VideoReady() bool {
	return true
}

func (d *beepDecoder) ReadVideo() *Frame {
	return nil
}

func (d *beepDecoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.cond.Broadcast()
	d.mu.Unlock()

	if started {
		<-d.done
	}
	return d.stream.Close()
}
