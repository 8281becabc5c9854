// Package refresh picks the waveform for each panel refresh.
//
// Content decides the cheapest mode able to render a frame (A2 for pure
// black/white, DU4 for the configured mid grays, GC16 for anything else) and
// a fast-refresh budget periodically forces a deep GC16 refresh to clear
// ghosting.
package refresh

import (
	"epdreader/internal/epd"
)

// Level quantizes an 8-bit gray value to the 4-bit level sent to the panel.
func Level(gray uint8) uint8 {
	return uint8(uint16(gray) * 15 / 255)
}

// Buckets maps 4-bit levels to the cheapest mode that renders them.
type Buckets struct {
	tier [16]epd.Mode
}

// NewBuckets builds the bucket table. Levels 0 and 15 are always A2; du4
// lists the extra levels DU4 renders exactly.
func NewBuckets(du4 []uint8) *Buckets {
	b := &Buckets{}
	for i := range b.tier {
		b.tier[i] = epd.ModeGC16
	}
	b.tier[0x0] = epd.ModeA2
	b.tier[0xF] = epd.ModeA2
	for _, l := range du4 {
		if l > 0 && l < 15 {
			b.tier[l] = epd.ModeDU4
		}
	}
	return b
}

// DefaultBuckets uses the panel's own DU4 gray levels.
func DefaultBuckets() *Buckets {
	return NewBuckets([]uint8{epd.PixelDarkGray, epd.PixelLightGray})
}

// Mode returns the tier of a 4-bit level.
func (b *Buckets) Mode(level uint8) epd.Mode {
	return b.tier[level&0x0F]
}

// cost orders modes by waveform cost; only the three tiers are produced.
func cost(m epd.Mode) int {
	switch m {
	case epd.ModeA2:
		return 0
	case epd.ModeDU4:
		return 1
	}
	return 2
}

// Frame is a one-way ratchet over the pixels flushed since the last refresh.
// The zero value starts at A2.
type Frame struct {
	mode    epd.Mode
	touched bool
}

// Observe escalates the frame mode to m if m is more expensive.
func (f *Frame) Observe(m epd.Mode) {
	if !f.touched {
		f.mode, f.touched = epd.ModeA2, true
	}
	if cost(m) > cost(f.mode) {
		f.mode = m
	}
}

// Terminal reports whether no further escalation is possible.
func (f *Frame) Terminal() bool {
	return f.touched && f.mode == epd.ModeGC16
}

// Mode returns the mode selected by the content seen so far.
func (f *Frame) Mode() epd.Mode {
	if !f.touched {
		return epd.ModeA2
	}
	return f.mode
}

// Reset starts a new frame.
func (f *Frame) Reset() {
	*f = Frame{}
}

// Policy tracks the fast-refresh budget.
type Policy struct {
	fastPerDeep int
	fast        int
}

// NewPolicy returns a policy forcing GC16 after fastPerDeep fast refreshes.
func NewPolicy(fastPerDeep int) *Policy {
	if fastPerDeep <= 0 {
		fastPerDeep = 12
	}
	return &Policy{fastPerDeep: fastPerDeep}
}

// Next returns the mode for the next refresh given the content mode and
// updates the counter. Every GC16 refresh resets it.
func (p *Policy) Next(content epd.Mode) epd.Mode {
	if p.fast >= p.fastPerDeep || content == epd.ModeGC16 {
		p.fast = 0
		return epd.ModeGC16
	}
	p.fast++
	return content
}

// Count returns the number of fast refreshes since the last deep one.
func (p *Policy) Count() int {
	return p.fast
}
