// Package gesture turns pointer samples into taps and swipes.
package gesture

import (
	"image"

	"epdreader/internal/touch"
)

// Kind is the type of a recognized gesture.
type Kind uint8

const (
	None Kind = iota
	Tap
	SwipeLeft
	SwipeRight
	SwipeUp
	SwipeDown
)

var kindNames = [...]string{"none", "tap", "swipe-left", "swipe-right", "swipe-up", "swipe-down"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// DefaultThreshold is the travel in pixels that separates a swipe from a tap.
const DefaultThreshold = 80

// Event is a completed gesture.
type Event struct {
	Kind       Kind
	Start, End image.Point
}

// Detector tracks one contact from press to release.
type Detector struct {
	threshold int
	down      bool
	start     image.Point
	last      image.Point
}

// NewDetector returns a detector; threshold <= 0 selects DefaultThreshold.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Feed consumes one sample. ok is true when a contact ended and e is the
// gesture it made.
func (d *Detector) Feed(p touch.Point) (e Event, ok bool) {
	if p.State == touch.Pressed {
		if !d.down {
			d.down = true
			d.start = p.Pt()
		}
		d.last = p.Pt()
		return Event{}, false
	}
	if !d.down {
		return Event{}, false
	}
	d.down = false
	return d.classify(d.start, d.last), true
}

func (d *Detector) classify(start, end image.Point) Event {
	dx, dy := end.X-start.X, end.Y-start.Y
	e := Event{Start: start, End: end}
	switch {
	case abs(dx) < d.threshold && abs(dy) < d.threshold:
		e.Kind = Tap
	case abs(dx) >= abs(dy) && dx < 0:
		e.Kind = SwipeLeft
	case abs(dx) >= abs(dy):
		e.Kind = SwipeRight
	case dy < 0:
		e.Kind = SwipeUp
	default:
		e.Kind = SwipeDown
	}
	return e
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
