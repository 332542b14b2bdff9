package engine

// Mix is the device callback. It fills out (interleaved stereo int16
// frames) by decoding and mixing every channel sample-accurately:
// accumulate in float, apply the per-channel gain chain and envelopes,
// sum, then hard-clip back to int16.
//
// Mix holds the audio lock for the whole invocation, so no control
// operation observes a channel mid-mix. It never reports errors; a dry
// decoder is treated as end-of-source.
func (e *Engine) Mix(out []int16) {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()

	frames := len(out) / 2
	if len(e.accum) < frames*2 {
		e.accum = make([]float32, frames*2)
	}
	if len(e.scratch) < frames*2 {
		e.scratch = make([]int16, frames*2)
	}
	acc := e.accum[:frames*2]
	for i := range acc {
		acc[i] = 0
	}

	for _, c := range e.channels {
		e.mixChannel(c, acc, frames)
	}

	for i, v := range acc {
		s := v * 32767
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i] = int16(s)
	}
}

func (e *Engine) mixChannel(c *channel, acc []float32, frames int) {
	if c.playing == nil || c.paused {
		return
	}

	mixed := 0
	for mixed < frames && c.playing != nil {
		want := frames - mixed
		readFrames := c.playing.dec.ReadAudio(e.scratch[:want*2]) / 2
		if c.stopSamples == 0 || readFrames == 0 {
			e.finishPlaying(c)
			continue
		}

		si := 0
		for readFrames > 0 && c.stopSamples != 0 {
			gain := c.getMixerVolume() * c.playing.relativeVolume *
				c.fade.Read() * c.secondaryVolume.Read()
			pan := c.pan.Read()
			acc[2*mixed] += float32(e.scratch[si]) / 32768 * gain * panLeft(pan)
			acc[2*mixed+1] += float32(e.scratch[si+1]) / 32768 * gain * panRight(pan)

			c.fade.Step()
			c.secondaryVolume.Step()
			c.pan.Step()

			if c.stopSamples > 0 {
				c.stopSamples--
			}
			c.pos.Add(1)
			mixed++
			si += 2
			readFrames--
		}
	}
}

// finishPlaying handles end-of-source inside the callback: post the end
// event, retire the decoder onto the dying list, promote the queued slot
// and start it. A nonzero fade-in on the promoted source overrides the
// predecessor's tightness.
func (e *Engine) finishPlaying(c *channel) {
	if tag := c.event.Load(); tag != 0 {
		e.postEvent(int(tag))
	}

	e.nameMu.Lock()
	e.pushDyingLocked(c.playing.dec)
	oldTight := c.playing.tight
	c.playing = c.queued
	c.queued = nil
	e.nameMu.Unlock()

	if c.playing == nil {
		c.stopSamples = noStop
		return
	}
	if c.playing.fadeinMS != 0 {
		oldTight = false
	}
	e.startStream(c, !oldTight)
}

func panLeft(p float32) float32 {
	if 1-p < 1 {
		return 1 - p
	}
	return 1
}

func panRight(p float32) float32 {
	if 1+p < 1 {
		return 1 + p
	}
	return 1
}
