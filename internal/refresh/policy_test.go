package refresh

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"epdreader/internal/epd"
)

func TestLevel(t *testing.T) {
	for _, tc := range []struct {
		gray uint8
		want uint8
	}{
		{0, 0x0},
		{16, 0x0},
		{17, 0x1},
		{95, 0x5},  // dark grey
		{180, 0xA}, // light grey
		{254, 0xE},
		{255, 0xF},
	} {
		if got := Level(tc.gray); got != tc.want {
			t.Errorf("Level(%d) = %#x, want %#x", tc.gray, got, tc.want)
		}
	}
}

func TestBuckets(t *testing.T) {
	b := DefaultBuckets()
	var got []epd.Mode
	for l := uint8(0); l < 16; l++ {
		got = append(got, b.Mode(l))
	}
	a2, du4, gc := epd.ModeA2, epd.ModeDU4, epd.ModeGC16
	want := []epd.Mode{a2, gc, gc, gc, gc, du4, gc, gc, gc, gc, du4, gc, gc, gc, gc, a2}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("bucket table difference (-got +want):\n%s", diff)
	}

	custom := NewBuckets([]uint8{0, 4, 15, 11})
	if custom.Mode(4) != du4 || custom.Mode(11) != du4 || custom.Mode(5) != gc {
		t.Error("custom DU4 levels not applied")
	}
	if custom.Mode(0) != a2 || custom.Mode(15) != a2 {
		t.Error("A2 levels overridden")
	}
}

func TestFrameRatchet(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   []epd.Mode
		want epd.Mode
	}{
		{"empty", nil, epd.ModeA2},
		{"black and white", []epd.Mode{epd.ModeA2, epd.ModeA2}, epd.ModeA2},
		{"gray", []epd.Mode{epd.ModeA2, epd.ModeDU4, epd.ModeA2}, epd.ModeDU4},
		{"never downgrades", []epd.Mode{epd.ModeGC16, epd.ModeDU4, epd.ModeA2}, epd.ModeGC16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var f Frame
			for _, m := range tc.in {
				f.Observe(m)
			}
			if got := f.Mode(); got != tc.want {
				t.Errorf("Mode() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFrameOrderIndependent(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	tiers := []epd.Mode{epd.ModeA2, epd.ModeDU4, epd.ModeGC16}
	for i := 0; i < 200; i++ {
		seq := make([]epd.Mode, 1+rnd.Intn(20))
		want := epd.ModeA2
		for j := range seq {
			seq[j] = tiers[rnd.Intn(len(tiers))]
			if cost(seq[j]) > cost(want) {
				want = seq[j]
			}
		}
		for k := 0; k < 3; k++ {
			rnd.Shuffle(len(seq), func(a, b int) { seq[a], seq[b] = seq[b], seq[a] })
			var f Frame
			for _, m := range seq {
				f.Observe(m)
			}
			if f.Mode() != want {
				t.Fatalf("%v: Mode() = %v, want %v", seq, f.Mode(), want)
			}
		}
	}
}

func TestFrameReset(t *testing.T) {
	var f Frame
	f.Observe(epd.ModeGC16)
	if !f.Terminal() {
		t.Error("GC16 frame not terminal")
	}
	f.Reset()
	if f.Mode() != epd.ModeA2 || f.Terminal() {
		t.Errorf("after Reset() mode = %v", f.Mode())
	}
}

func TestPolicyForcesDeep(t *testing.T) {
	p := NewPolicy(12)
	var modes []epd.Mode
	var counts []int
	for i := 0; i < 15; i++ {
		modes = append(modes, p.Next(epd.ModeA2))
		counts = append(counts, p.Count())
	}
	for i, m := range modes {
		want := epd.ModeA2
		if i == 12 {
			want = epd.ModeGC16
		}
		if m != want {
			t.Errorf("refresh %d = %v, want %v", i+1, m, want)
		}
	}
	wantCounts := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 0, 1, 2}
	if diff := cmp.Diff(counts, wantCounts); diff != "" {
		t.Errorf("counter difference (-got +want):\n%s", diff)
	}
}

func TestPolicyContentDeepResets(t *testing.T) {
	p := NewPolicy(3)
	p.Next(epd.ModeDU4)
	p.Next(epd.ModeA2)
	if got := p.Next(epd.ModeGC16); got != epd.ModeGC16 {
		t.Fatalf("Next(GC16) = %v", got)
	}
	if p.Count() != 0 {
		t.Errorf("Count() = %d after deep refresh, want 0", p.Count())
	}
	if got := p.Next(epd.ModeDU4); got != epd.ModeDU4 {
		t.Errorf("Next(DU4) = %v, want DU4", got)
	}
}
