package gesture

import (
	"image"
	"testing"

	"epdreader/internal/touch"
)

func press(x, y int) touch.Point   { return touch.Point{X: x, Y: y, State: touch.Pressed} }
func release(x, y int) touch.Point { return touch.Point{X: x, Y: y, State: touch.Released} }

func TestDetector(t *testing.T) {
	for _, tc := range []struct {
		name    string
		samples []touch.Point
		want    Kind
	}{
		{"tap", []touch.Point{press(100, 100), press(110, 95), release(110, 95)}, Tap},
		{"left", []touch.Point{press(400, 500), press(300, 510), press(200, 520), release(200, 520)}, SwipeLeft},
		{"right", []touch.Point{press(100, 500), press(300, 480), release(300, 480)}, SwipeRight},
		{"up", []touch.Point{press(270, 800), press(280, 600), release(280, 600)}, SwipeUp},
		{"down", []touch.Point{press(270, 100), press(260, 400), release(260, 400)}, SwipeDown},
		{"diagonal favours horizontal", []touch.Point{press(0, 0), press(100, 100), release(100, 100)}, SwipeRight},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(80)
			var got []Event
			for _, s := range tc.samples {
				if e, ok := d.Feed(s); ok {
					got = append(got, e)
				}
			}
			if len(got) != 1 {
				t.Fatalf("got %d events, want 1", len(got))
			}
			if got[0].Kind != tc.want {
				t.Errorf("Kind = %v, want %v", got[0].Kind, tc.want)
			}
			first := tc.samples[0]
			if got[0].Start != image.Pt(first.X, first.Y) {
				t.Errorf("Start = %v", got[0].Start)
			}
		})
	}
}

func TestReleaseWithoutPress(t *testing.T) {
	d := NewDetector(0)
	for i := 0; i < 3; i++ {
		if _, ok := d.Feed(release(10, 10)); ok {
			t.Fatal("event without a press")
		}
	}
}

func TestKindString(t *testing.T) {
	if SwipeDown.String() != "swipe-down" || Kind(42).String() != "unknown" {
		t.Error("unexpected Kind names")
	}
}
