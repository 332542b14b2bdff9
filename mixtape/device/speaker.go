package device

import (
	"fmt"
	"log/slog"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// Speaker plays through the default audio output using beep's speaker,
// pulling buffers from the engine callback. It is the pure-Go playback
// path; no native libraries are required.
type Speaker struct {
	cfg    Config
	stream *speakerStream
	opened bool
}

// NewSpeaker creates an unopened speaker device.
func NewSpeaker() *Speaker {
	return &Speaker{}
}

func (s *Speaker) Open(cfg Config, cb Callback) error {
	if s.opened {
		return fmt.Errorf("speaker device already open")
	}
	if cfg.Channels != 2 {
		return fmt.Errorf("speaker device is stereo only, got %d channels", cfg.Channels)
	}
	if err := speaker.Init(beep.SampleRate(cfg.Freq), cfg.Samples); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}

	s.cfg = cfg
	s.stream = &speakerStream{
		cb:     cb,
		buf:    make([]int16, cfg.Samples*cfg.Channels),
		paused: true,
	}
	speaker.Play(s.stream)
	s.opened = true

	slog.Info("Speaker device opened", "freq", cfg.Freq, "buffer_frames", cfg.Samples)
	return nil
}

func (s *Speaker) Pause(paused bool) {
	if !s.opened {
		return
	}
	speaker.Lock()
	s.stream.paused = paused
	speaker.Unlock()
}

func (s *Speaker) Close() error {
	if !s.opened {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	s.opened = false
	return nil
}

// speakerStream adapts the render callback to a beep.Streamer. The
// speaker asks for arbitrary sample counts; whole device buffers are
// rendered and the remainder carried over to the next Stream call.
type speakerStream struct {
	cb      Callback
	buf     []int16
	pending []int16
	paused  bool
}

func (st *speakerStream) Stream(samples [][2]float64) (int, bool) {
	if st.paused {
		for i := range samples {
			samples[i] = [2]float64{}
		}
		return len(samples), true
	}

	for i := range samples {
		if len(st.pending) < 2 {
			st.cb(st.buf)
			st.pending = st.buf
		}
		samples[i][0] = float64(st.pending[0]) / 32768
		samples[i][1] = float64(st.pending[1]) / 32768
		st.pending = st.pending[2:]
	}
	return len(samples), true
}

func (st *speakerStream) Err() error {
	return nil
}
