package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/urfave/cli"
	"github.com/valerio/go-mixtape/mixtape/device"
	"github.com/valerio/go-mixtape/mixtape/engine"
)

const (
	// Refresh cadence of the channel monitor. Periodic runs on the same
	// tick, reclaiming decoders retired by the mixer.
	frameTime = time.Second / 30

	fadeoutMS = 1000
)

// ChannelMonitor shows the engine's channels in the terminal while a
// playlist plays: name, position, duration, queue depth and volume, with
// keys for pause, fadeout, stop and quit.
type ChannelMonitor struct {
	screen   tcell.Screen
	mixer    *engine.Engine
	channels int
	paused   bool
	running  bool
}

func NewChannelMonitor(mixer *engine.Engine, channels int) (*ChannelMonitor, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %v", err)
	}

	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %v", err)
	}

	return &ChannelMonitor{
		screen:   screen,
		mixer:    mixer,
		channels: channels,
		running:  true,
	}, nil
}

func (m *ChannelMonitor) Run() error {
	defer func() {
		slog.Info("Finishing terminal")
		m.screen.Fini()
	}()

	m.screen.SetStyle(tcell.StyleDefault.
		Background(tcell.ColorBlack).
		Foreground(tcell.ColorWhite))
	m.screen.Clear()

	go m.handleInput()

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	// catch SIGINT and SIGTERM
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	for m.running {
		select {
		case <-ticker.C:
			m.mixer.Periodic()
			m.render()
			m.screen.Show()
		case <-signals:
			m.running = false
			slog.Info("Received signal to stop")
			return nil
		}
	}

	return nil
}

func (m *ChannelMonitor) handleInput() {
	for m.running {
		ev := m.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape:
				m.running = false
				return
			case tcell.KeyRune:
				m.handleKey(ev.Rune())
			}
		case *tcell.EventResize:
			m.screen.Sync()
		}
	}
}

func (m *ChannelMonitor) handleKey(r rune) {
	switch r {
	case 'q':
		m.running = false
	case ' ':
		m.paused = !m.paused
		for ch := 0; ch < m.channels; ch++ {
			m.mixer.SetPause(ch, m.paused)
		}
	case 'f':
		for ch := 0; ch < m.channels; ch++ {
			m.mixer.Fadeout(ch, fadeoutMS)
		}
	case 's':
		for ch := 0; ch < m.channels; ch++ {
			m.mixer.Stop(ch)
		}
	}
}

func (m *ChannelMonitor) render() {
	m.screen.Clear()

	m.drawText(0, 0, "mixtape - space: pause  f: fadeout  s: stop  q: quit")

	for ch := 0; ch < m.channels; ch++ {
		name, playing, err := m.mixer.PlayingName(ch)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("channel %d  idle", ch)
		if playing {
			pos, _ := m.mixer.Position(ch)
			dur, _ := m.mixer.Duration(ch)
			depth, _ := m.mixer.QueueDepth(ch)
			vol, _ := m.mixer.Volume(ch)
			line = fmt.Sprintf("channel %d  %-24s %6.1fs / %6.1fs  queue %d  vol %.2f",
				ch, name, float64(pos)/1000, dur, depth, vol)
		}
		m.drawText(0, 2+ch, line)
	}
}

func (m *ChannelMonitor) drawText(x, y int, text string) {
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	for i, r := range text {
		m.screen.SetContent(x+i, y, r, nil, style)
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "Mixtape"
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
	}
	app.Action = runMonitor

	err := app.Run(os.Args)
	if err != nil {
		slog.Error("Error running mixer", "error", err)
		os.Exit(1)
	}
}

func runMonitor(c *cli.Context) error {
	if c.NArg() == 0 {
		cli.ShowAppHelp(c)
		return errors.New("no media files provided")
	}

	mixer := engine.New()
	cfg := engine.Config{
		Freq:     c.Int("freq"),
		Channels: 2,
		Samples:  c.Int("buffer"),
	}
	if err := mixer.Init(cfg, device.NewSpeaker()); err != nil {
		return err
	}
	defer mixer.Quit()

	for ch := 0; ch < c.NArg(); ch++ {
		path := c.Args().Get(ch)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		spec := engine.PlaySpec{
			Source: f,
			Ext:    strings.TrimPrefix(filepath.Ext(path), "."),
			Name:   filepath.Base(path),
		}
		if err := mixer.Play(ch, spec); err != nil {
			return err
		}
	}

	monitor, err := NewChannelMonitor(mixer, c.NArg())
	if err != nil {
		return err
	}

	return monitor.Run()
}
