package device

import "time"

// Pacer controls how fast a pump-style device renders buffers.
type Pacer interface {
	// WaitForNextBuffer blocks until it's time to render the next buffer.
	// Returns immediately if rendering is behind schedule.
	WaitForNextBuffer()

	// Reset resets the timing state, useful after pauses.
	Reset()
}

// NewNoOpPacer returns a pacer that doesn't pace (for offline rendering).
func NewNoOpPacer() Pacer {
	return &noOpPacer{}
}

type noOpPacer struct{}

func (n *noOpPacer) WaitForNextBuffer() {}
func (n *noOpPacer) Reset()             {}

// NewTickPacer returns a pacer that spaces buffers by their real-time
// duration at the given rate.
func NewTickPacer(freq, samples int) Pacer {
	return &tickPacer{
		period: time.Duration(float64(samples) / float64(freq) * float64(time.Second)),
	}
}

type tickPacer struct {
	period time.Duration
	next   time.Time
}

func (p *tickPacer) WaitForNextBuffer() {
	now := time.Now()
	if p.next.IsZero() || now.After(p.next.Add(p.period)) {
		p.next = now
	}
	if wait := p.next.Sub(now); wait > 0 {
		time.Sleep(wait)
	}
	p.next = p.next.Add(p.period)
}

func (p *tickPacer) Reset() {
	p.next = time.Time{}
}
