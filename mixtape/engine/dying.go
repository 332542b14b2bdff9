package engine

import (
	"log/slog"

	"github.com/valerio/go-mixtape/mixtape/media"
)

// Closing a decoder may join threads or allocate, which must never happen
// inside the mixer callback. The callback instead pushes retired handles
// onto an intrusive singly-linked list (two pointer stores under the name
// lock) and the control thread reclaims them on its Periodic cadence.
//
// The list is LIFO; closure order is not observable to clients.

type dyingNode struct {
	dec  media.Decoder
	next *dyingNode
}

// pushDyingLocked retires a decoder handle. Callers must hold the name lock.
func (e *Engine) pushDyingLocked(dec media.Decoder) {
	if dec == nil {
		return
	}
	e.dying = &dyingNode{dec: dec, next: e.dying}
}

// Periodic reclaims decoder handles retired by the mixer callback and
// advances the media clock. Call it regularly from the control thread.
func (e *Engine) Periodic() {
	e.nameMu.Lock()
	head := e.dying
	e.dying = nil
	e.nameMu.Unlock()

	for node := head; node != nil; node = node.next {
		if err := node.dec.Close(); err != nil {
			slog.Warn("Failed to close retired decoder", "error", err)
		}
	}

	media.AdvanceTime()
}
