//go:build sdl2

package device

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

// SDL2 plays through an SDL2 audio device, pumping rendered buffers into
// the device queue from a paced goroutine.
// Note: building this requires SDL2 development libraries installed.
// Default builds skip this and use a stubbed device, see build tags (sdl2)
type SDL2 struct {
	cfg    Config
	cb     Callback
	dev    sdl.AudioDeviceID
	buf    []int16
	stop   chan struct{}
	done   chan struct{}
	opened bool
}

// NewSDL2 creates an unopened SDL2 device.
func NewSDL2() *SDL2 {
	return &SDL2{}
}

func (s *SDL2) Open(cfg Config, cb Callback) error {
	if s.opened {
		return fmt.Errorf("SDL2 device already open")
	}
	if err := sdl.InitSubSystem(sdl.INIT_AUDIO); err != nil {
		return fmt.Errorf("failed to initialize SDL2 audio: %v", err)
	}

	spec := &sdl.AudioSpec{
		Freq:     int32(cfg.Freq),
		Format:   sdl.AUDIO_S16SYS,
		Channels: uint8(cfg.Channels),
		Samples:  uint16(cfg.Samples),
	}
	obtained := &sdl.AudioSpec{}
	dev, err := sdl.OpenAudioDevice("", false, spec, obtained, 0)
	if err != nil {
		sdl.QuitSubSystem(sdl.INIT_AUDIO)
		return fmt.Errorf("failed to open audio device: %v", err)
	}

	s.cfg = cfg
	s.cb = cb
	s.dev = dev
	s.buf = make([]int16, cfg.Samples*cfg.Channels)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.opened = true
	go s.pump()

	slog.Info("Audio device opened", "freq", obtained.Freq, "samples", obtained.Samples)
	return nil
}

// pump keeps the SDL queue topped up with a few buffers of lead, rendering
// through the callback whenever the queue runs low.
func (s *SDL2) pump() {
	defer close(s.done)

	pacer := NewTickPacer(s.cfg.Freq, s.cfg.Samples)
	target := uint32(s.cfg.Samples * s.cfg.Channels * 2 * 4)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if sdl.GetQueuedAudioSize(s.dev) < target {
			s.cb(s.buf)
			raw := (*[1 << 30]byte)(unsafe.Pointer(&s.buf[0]))[: len(s.buf)*2 : len(s.buf)*2]
			if err := sdl.QueueAudio(s.dev, raw); err != nil {
				slog.Warn("Failed to queue audio", "error", err)
			}
			continue
		}
		pacer.WaitForNextBuffer()
	}
}

func (s *SDL2) Pause(paused bool) {
	if !s.opened {
		return
	}
	sdl.PauseAudioDevice(s.dev, paused)
}

func (s *SDL2) Close() error {
	if !s.opened {
		return nil
	}
	close(s.stop)
	<-s.done
	sdl.CloseAudioDevice(s.dev)
	sdl.QuitSubSystem(sdl.INIT_AUDIO)
	s.opened = false
	return nil
}
