package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"github.com/valerio/go-mixtape/mixtape/device"
	"github.com/valerio/go-mixtape/mixtape/engine"
)

const periodicInterval = 100 * time.Millisecond

func main() {
	app := cli.NewApp()
	app.Name = "mixtape"
	app.Description = "A multi-channel audio mixing engine"
	app.Usage = "mixtape [options] <media files>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "freq",
			Usage: "Output sample rate in Hz",
			Value: 48000,
		},
		cli.IntFlag{
			Name:  "buffer",
			Usage: "Device buffer size in frames",
			Value: 1024,
		},
		cli.StringFlag{
			Name:  "device",
			Usage: "Audio device: speaker, sdl2 or manual",
			Value: "speaker",
		},
		cli.IntFlag{
			Name:  "fadein",
			Usage: "Fade the first source in over this many milliseconds",
			Value: 0,
		},
		cli.BoolFlag{
			Name:  "tight",
			Usage: "Queue successive files tightly (no fade-in between them)",
		},
		cli.IntFlag{
			Name:  "render-buffers",
			Usage: "With the manual device, render this many buffers and exit (required for manual)",
			Value: 0,
		},
		cli.StringFlag{
			Name:  "render-out",
			Usage: "With the manual device, write the rendered PCM to this file",
		},
	}
	app.Action = runMixer

	err := app.Run(os.Args)
	if err != nil {
		slog.Error("Error running mixer", "error", err)
		os.Exit(1)
	}
}

func newDevice(name string) (device.Device, error) {
	switch name {
	case "speaker":
		return device.NewSpeaker(), nil
	case "sdl2":
		return device.NewSDL2(), nil
	case "manual":
		return device.NewManual(), nil
	}
	return nil, fmt.Errorf("unknown device %q", name)
}

func runMixer(c *cli.Context) error {
	if c.NArg() == 0 {
		cli.ShowAppHelp(c)
		return errors.New("no media files provided")
	}

	dev, err := newDevice(c.String("device"))
	if err != nil {
		return err
	}

	// Set up debug logging for batch mode
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	mixer := engine.New()
	cfg := engine.Config{
		Freq:     c.Int("freq"),
		Channels: 2,
		Samples:  c.Int("buffer"),
	}
	if err := mixer.Init(cfg, dev); err != nil {
		return err
	}
	defer mixer.Quit()

	// All files play back-to-back on channel 0. The channel holds one
	// playing and one queued source, so the playlist is fed as the mixer
	// promotes: feed tops the queue up to depth 2.
	playlist := newPlaylist(mixer, c.Args(), c.Int("fadein"), c.Bool("tight"))
	if err := playlist.feed(); err != nil {
		return err
	}
	mixer.SetEndEvent(0, 1)

	if manual, ok := dev.(*device.Manual); ok {
		return renderOffline(c, mixer, playlist, manual)
	}
	return playUntilDone(mixer, playlist)
}

type playlist struct {
	mixer  *engine.Engine
	paths  []string
	next   int
	fadein int
	tight  bool
}

func newPlaylist(mixer *engine.Engine, paths []string, fadein int, tight bool) *playlist {
	return &playlist{mixer: mixer, paths: paths, fadein: fadein, tight: tight}
}

func (p *playlist) feed() error {
	for p.next < len(p.paths) {
		depth, err := p.mixer.QueueDepth(0)
		if err != nil {
			return err
		}
		if depth >= 2 {
			return nil
		}

		path := p.paths[p.next]
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		spec := engine.PlaySpec{
			Source: f,
			Ext:    strings.TrimPrefix(filepath.Ext(path), "."),
			Name:   filepath.Base(path),
			Tight:  p.tight,
		}
		if p.next == 0 {
			spec.FadeinMS = p.fadein
			err = p.mixer.Play(0, spec)
		} else {
			err = p.mixer.Queue(0, spec)
		}
		if err != nil {
			return err
		}
		p.next++
	}
	return nil
}

func (p *playlist) exhausted() bool {
	return p.next >= len(p.paths)
}

// renderOffline cranks the manual device by hand, optionally dumping the
// raw PCM, instead of playing in real time.
func renderOffline(c *cli.Context, mixer *engine.Engine, playlist *playlist, manual *device.Manual) error {
	buffers := c.Int("render-buffers")
	if buffers <= 0 {
		return errors.New("manual device requires --render-buffers with a positive value")
	}

	var out *os.File
	if path := c.String("render-out"); path != "" {
		var err error
		out, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create render output: %v", err)
		}
		defer out.Close()
	}

	slog.Info("Rendering offline", "buffers", buffers, "buffer_frames", c.Int("buffer"))
	for i := 0; i < buffers; i++ {
		pcm := manual.Step()
		if out != nil {
			if err := binary.Write(out, binary.LittleEndian, pcm); err != nil {
				return fmt.Errorf("failed to write PCM: %v", err)
			}
		}
		if i%50 == 0 {
			mixer.Periodic()
			if err := playlist.feed(); err != nil {
				return err
			}
			slog.Info("Render progress", "completed", i+1, "total", buffers)
		}
	}
	mixer.Periodic()
	slog.Info("Offline render completed", "buffers", buffers)
	return nil
}

// playUntilDone keeps the playlist fed until the channel drains, running
// Periodic on a steady cadence. A signal stops playback early.
func playUntilDone(mixer *engine.Engine, playlist *playlist) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(periodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mixer.Periodic()
			if err := playlist.feed(); err != nil {
				return err
			}
			depth, err := mixer.QueueDepth(0)
			if err != nil {
				return err
			}
			if depth == 0 && playlist.exhausted() {
				slog.Info("Playback completed")
				return nil
			}
		case tag := <-mixer.Events():
			slog.Debug("Channel event", "tag", tag)
		case <-signals:
			slog.Info("Received signal to stop")
			return nil
		}
	}
}
