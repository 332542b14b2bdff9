package device

import "fmt"

// Manual is a hand-cranked device for tests, batch processing and offline
// rendering: nothing plays until Step is called, and every rendered buffer
// is returned to the caller.
type Manual struct {
	cfg    Config
	cb     Callback
	paused bool
	opened bool
}

// NewManual creates an unopened manual device.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Open(cfg Config, cb Callback) error {
	if m.opened {
		return fmt.Errorf("manual device already open")
	}
	m.cfg = cfg
	m.cb = cb
	m.paused = true
	m.opened = true
	return nil
}

func (m *Manual) Pause(paused bool) {
	m.paused = paused
}

func (m *Manual) Close() error {
	m.opened = false
	m.cb = nil
	return nil
}

// Step renders one device buffer and returns it. While the device is
// paused (or unopened) it returns silence, like a real output would.
func (m *Manual) Step() []int16 {
	out := make([]int16, m.cfg.Samples*m.cfg.Channels)
	if m.opened && !m.paused && m.cb != nil {
		m.cb(out)
	}
	return out
}

// StepN renders n consecutive buffers and returns them concatenated.
func (m *Manual) StepN(n int) []int16 {
	var all []int16
	for i := 0; i < n; i++ {
		all = append(all, m.Step()...)
	}
	return all
}
