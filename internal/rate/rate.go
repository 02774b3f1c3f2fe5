// Package rate derives throughput from monotonically increasing byte counters.
package rate

import "time"

const bytesPerMB = 1_000_000

// Point is a single counter observation.
type Point struct {
	Bytes uint64
	At    time.Time
}

// MBPerSecond computes the throughput between two observations and returns the
// baseline the next call should use.
//
// A non-advancing clock yields 0 and keeps prev as the baseline. A counter that
// went backwards (reset or wraparound) yields 0 and adopts cur as the baseline.
func MBPerSecond(prev, cur Point) (float64, Point) {
	if !cur.At.After(prev.At) {
		return 0, prev
	}
	if cur.Bytes < prev.Bytes {
		return 0, cur
	}
	elapsed := cur.At.Sub(prev.At).Seconds()
	return float64(cur.Bytes-prev.Bytes) / elapsed / bytesPerMB, cur
}

// Counter tracks the baseline of a single counter direction.
type Counter struct {
	baseline Point
	primed   bool
}

// Prime sets the baseline without producing a rate.
func (c *Counter) Prime(bytes uint64, at time.Time) {
	c.baseline = Point{Bytes: bytes, At: at}
	c.primed = true
}

// Observe feeds a new reading and returns the rate since the baseline.
// The first observation of an unprimed counter only establishes the baseline.
func (c *Counter) Observe(bytes uint64, at time.Time) float64 {
	cur := Point{Bytes: bytes, At: at}
	if !c.primed {
		c.baseline = cur
		c.primed = true
		return 0
	}
	value, next := MBPerSecond(c.baseline, cur)
	c.baseline = next
	return value
}

// Baseline returns the current baseline and whether one exists.
func (c *Counter) Baseline() (Point, bool) {
	return c.baseline, c.primed
}

// Primed reports whether a baseline exists.
func (c *Counter) Primed() bool {
	return c.primed
}

// Reset drops the baseline.
func (c *Counter) Reset() {
	c.baseline = Point{}
	c.primed = false
}
