package convert

import (
	"fmt"
	"image"

	"epdreader/internal/refresh"
)

// PackedSize returns the number of bytes needed for r at 4 bits per pixel.
func PackedSize(r image.Rectangle) int {
	return (r.Dx()*r.Dy() + 1) / 2
}

// PackGray4 converts the r region of src into packed 4bpp pixels in dst and
// feeds every pixel's bucket into frame.
//
// Packing 규칙:
//
//   - row-major, rows are not padded (r.Dx() is a multiple of 4 on this panel)
//   - two pixels per byte, the left pixel in the high nibble
//   - level = gray*15/255, 0x0 black and 0xF white
//
// frame may be nil when the caller does not need content inspection.
func PackGray4(dst []byte, src *image.Gray, r image.Rectangle, b *refresh.Buckets, frame *refresh.Frame) (int, error) {
	if !r.In(src.Bounds()) {
		return 0, fmt.Errorf("convert: rect %v outside source %v", r, src.Bounds())
	}
	if r.Dx()%2 != 0 {
		return 0, fmt.Errorf("convert: odd width %d", r.Dx())
	}
	n := PackedSize(r)
	if len(dst) < n {
		return 0, fmt.Errorf("convert: destination holds %d bytes, need %d", len(dst), n)
	}

	inspect := frame != nil && b != nil
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		// Stride를 직접 사용해 At() 호출을 피한다.
		row := src.Pix[src.PixOffset(r.Min.X, y):src.PixOffset(r.Max.X, y)]
		for x := 0; x < len(row); x += 2 {
			hi := refresh.Level(row[x])
			lo := refresh.Level(row[x+1])
			dst[i] = hi<<4 | lo
			i++
			if inspect && !frame.Terminal() {
				frame.Observe(b.Mode(hi))
				frame.Observe(b.Mode(lo))
			}
		}
	}
	return n, nil
}

// Unpack4 expands packed 4bpp pixels back into the r region of dst.
func Unpack4(dst *image.Gray, r image.Rectangle, px []byte) error {
	if !r.In(dst.Bounds()) {
		return fmt.Errorf("convert: rect %v outside destination %v", r, dst.Bounds())
	}
	if len(px) < PackedSize(r) {
		return fmt.Errorf("convert: %d bytes for %v", len(px), r)
	}
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := dst.PixOffset(r.Min.X, y)
		for x := 0; x < r.Dx(); x++ {
			nib := px[i/2] >> 4
			if i%2 == 1 {
				nib = px[i/2] & 0x0F
			}
			dst.Pix[off+x] = nib * 17
			i++
		}
	}
	return nil
}
