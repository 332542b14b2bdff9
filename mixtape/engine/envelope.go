package engine

// Envelope is a linear interpolator over discrete sample counts. It is used
// for the per-channel fade, pan and secondary volume ramps, and is advanced
// exactly once per mixed output sample by the mixer callback.
//
// An Envelope is a plain value: it is re-initialized in place and never
// allocates. No clamping happens here; callers saturate for their domain.
type Envelope struct {
	done     uint64
	duration uint64
	start    float32
	end      float32
}

// Init sets the envelope so that it reads value forever.
func (v *Envelope) Init(value float32) {
	v.done = 0
	v.duration = 0
	v.start = value
	v.end = value
}

// Read returns the interpolated value at the current position.
func (v *Envelope) Read() float32 {
	if v.done >= v.duration {
		return v.end
	}
	return v.start + (v.end-v.start)*float32(v.done)/float32(v.duration)
}

// Retarget restarts the ramp from the current reading towards end over the
// given number of samples. A zero duration makes the envelope read end
// immediately.
func (v *Envelope) Retarget(end float32, duration uint64) {
	v.start = v.Read()
	v.end = end
	v.done = 0
	v.duration = duration
}

// Step advances the envelope by one sample, saturating at the target.
func (v *Envelope) Step() {
	if v.done < v.duration {
		v.done++
	}
}
