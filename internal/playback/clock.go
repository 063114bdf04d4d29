package playback

import "math"

// clockEpsilon absorbs floating point error when a frame boundary falls
// exactly on a tick (e.g. 10 ticks × 2 fps / 20 tps).
const clockEpsilon = 1e-9

// FrameClock converts elapsed ticks into frame advances for one session.
//
// It tracks the total elapsed ticks since the first frame rather than an
// accumulated float remainder, so the number of frames due after T ticks is
// always floor(T × fps / tickRate) and the long-run error never exceeds one
// frame. Frame 0 is due at tick 0. Advances never move past the last frame.
type FrameClock struct {
	fps      float64
	tickRate float64
	last     int

	elapsed int64
	index   int
}

// NewFrameClock returns a clock for an animation with frames frames played at
// fps on a host ticking tickRate times per second. The clock starts on frame 0.
func NewFrameClock(fps float64, tickRate, frames int) *FrameClock {
	return &FrameClock{
		fps:      fps,
		tickRate: float64(tickRate),
		last:     max(frames-1, 0),
	}
}

// Advance adds deltaTicks of elapsed time and returns how many frames the
// session should step. The result is zero or more; frames beyond the last
// one are clamped away. Non-positive deltas are ignored.
func (c *FrameClock) Advance(deltaTicks int) int {
	if deltaTicks <= 0 || c.Done() {
		return 0
	}
	c.elapsed += int64(deltaTicks)
	// Clamp before converting: a huge fps would overflow int.
	exact := math.Floor(float64(c.elapsed)*c.fps/c.tickRate + clockEpsilon)
	due := c.last
	if exact < float64(c.last) {
		due = int(exact)
	}
	n := due - c.index
	if n <= 0 {
		return 0
	}
	c.index = due
	return n
}

// Index returns the frame most recently stepped to.
func (c *FrameClock) Index() int { return c.index }

// Elapsed returns the ticks accumulated so far.
func (c *FrameClock) Elapsed() int64 { return c.elapsed }

// Remainder returns the fractional progress toward the next frame, in [0, 1).
// It is zero once the clock is done.
func (c *FrameClock) Remainder() float64 {
	if c.Done() {
		return 0
	}
	exact := float64(c.elapsed) * c.fps / c.tickRate
	return max(exact-float64(c.index), 0)
}

// Done reports whether the clock has reached the last frame.
func (c *FrameClock) Done() bool { return c.index >= c.last }
