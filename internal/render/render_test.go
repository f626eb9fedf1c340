package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stripedPano builds an equirectangular source where the left half is red
// and the right half is blue, so heading/centerHeading alignment can be
// checked by sampling which half the rendered frame lands on.
func stripedPano(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestFrameProducesRequestedDimensions(t *testing.T) {
	src := stripedPano(512, 256)
	data, err := Frame(src, Options{Heading: 0, FOV: 90, Width: 64, Height: 48})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestFrameDefaultsDimensionsWhenUnset(t *testing.T) {
	src := stripedPano(256, 128)
	data, err := Frame(src, Options{Heading: 0, FOV: 90})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())
}

func TestFrameIsDeterministic(t *testing.T) {
	src := stripedPano(512, 256)
	opts := Options{Heading: 30, Pitch: 10, FOV: 90, CenterHeading: 15, Width: 32, Height: 24}

	a, err := Frame(src, opts)
	require.NoError(t, err)
	b, err := Frame(src, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBilinearSampleWrapsAtSeam(t *testing.T) {
	src := stripedPano(360, 180)
	bounds := src.Bounds()

	// Sampling just past the right edge should wrap to column 0, not clamp.
	atEdge := bilinearSample(src, bounds, 359.9, 90)
	atWrapped := bilinearSample(src, bounds, -0.1, 90)

	er, eg, eb, ea := atEdge.RGBA()
	wr, wg, wb, wa := atWrapped.RGBA()
	assert.InDelta(t, float64(er), float64(wr), 2000)
	assert.InDelta(t, float64(eg), float64(wg), 2000)
	assert.InDelta(t, float64(eb), float64(wb), 2000)
	assert.InDelta(t, float64(ea), float64(wa), 2000)
}

func TestBilinearSampleClampsVertically(t *testing.T) {
	src := stripedPano(64, 32)
	bounds := src.Bounds()

	// Past the top/bottom edges should clamp to the nearest valid row, not panic.
	assert.NotPanics(t, func() {
		bilinearSample(src, bounds, 10, -5)
		bilinearSample(src, bounds, 10, 40)
	})
}

func TestProjectFollowsHeadingOffsetFromCenter(t *testing.T) {
	src := stripedPano(512, 256)

	// Column 0 (left edge, red) sits at theta=0, i.e. sx=0; positive theta
	// (heading ahead of centerHeading) lands just right of column 0 in the
	// red left half, negative theta wraps around into the right (blue) half
	// near the seam.
	out := project(src, Options{Heading: 45, CenterHeading: 0, FOV: 10, Width: 1, Height: 1})
	r, _, b, _ := out.At(0, 0).RGBA()
	assert.Greater(t, r, b, "positive yaw from center should sample toward column 0 (red)")

	out2 := project(src, Options{Heading: -45, CenterHeading: 0, FOV: 10, Width: 1, Height: 1})
	r2, _, b2, _ := out2.At(0, 0).RGBA()
	assert.Greater(t, b2, r2, "negative yaw from center should wrap into the blue half")
}

func TestProjectCenterHeadingAlignsWithColumnZero(t *testing.T) {
	// With an even Width, pixel index w/2 sits exactly on the camera's
	// forward ray (x offset 0), so heading == centerHeading must sample
	// source column 0 exactly: the contract that column 0 is centerHeading.
	src := stripedPano(720, 360)

	out := project(src, Options{Heading: 123, CenterHeading: 123, FOV: 60, Width: 2, Height: 1})
	sampled := out.At(1, 0)
	columnZero := src.At(0, 0)

	sr, _, sb, _ := sampled.RGBA()
	cr, _, cb, _ := columnZero.RGBA()
	assert.Equal(t, cr, sr, "heading == centerHeading must sample column 0's red channel")
	assert.Equal(t, cb, sb, "heading == centerHeading must sample column 0's blue channel")
}
