// Package render is a pure, deterministic equirectangular-to-perspective
// projection used to produce the agent-facing frame for a session's
// current state.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	"github.com/jcom-dev/vlnbench/internal/metrics"
)

// JPEGQuality is the minimum acceptable encode quality.
const JPEGQuality = 90

// Options controls one render call.
type Options struct {
	Heading       float64 // true-north degrees, [0, 360)
	Pitch         float64 // degrees, [-85, 85]
	FOV           float64 // horizontal field of view, degrees
	CenterHeading float64 // panorama's equirectangular left-edge bearing
	Width         int
	Height        int
}

// Frame renders the perspective view of src (an equirectangular panorama)
// under opts and JPEG-encodes the result at JPEGQuality. It is a pure
// function: identical inputs always produce byte-identical output.
func Frame(src image.Image, opts Options) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.RenderDuration.Observe(time.Since(start).Seconds()) }()

	out := project(src, opts)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// project performs the gnomonic (rectilinear) perspective projection: for
// each output pixel, compute the 3D ray direction implied by the camera's
// (yaw, pitch, fov), convert it to spherical coordinates, map those to
// equirectangular source coordinates, and bilinearly sample.
//
// Image-space yaw = heading - centerHeading (mod 360): the agent's heading
// is true-north referenced, while the equirectangular source's column 0
// corresponds to centerHeading, not true north. Pitch is negated before
// projection since the source's +v axis points downward.
func project(src image.Image, opts Options) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	yaw := math.Mod(opts.Heading-opts.CenterHeading+360, 360) * math.Pi / 180
	pitch := -opts.Pitch * math.Pi / 180
	fovRad := opts.FOV * math.Pi / 180

	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	// focalLength in normalized image-plane units for the given horizontal FOV.
	focal := float64(w) / 2 / math.Tan(fovRad/2)

	out := image.NewRGBA(image.Rect(0, 0, w, h))

	sinYaw, cosYaw := math.Sin(yaw), math.Cos(yaw)
	sinPitch, cosPitch := math.Sin(pitch), math.Cos(pitch)

	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			// Camera-space ray through this pixel, +x right, +y down, +z forward.
			x := float64(px) - float64(w)/2
			y := float64(py) - float64(h)/2
			z := focal

			// Pitch: rotate around the camera's x axis.
			y2 := y*cosPitch - z*sinPitch
			z2 := y*sinPitch + z*cosPitch

			// Yaw: rotate around the vertical (y) axis.
			x3 := x*cosYaw + z2*sinYaw
			z3 := -x*sinYaw + z2*cosYaw
			y3 := y2

			theta := math.Atan2(x3, z3)            // longitude, [-pi, pi]
			phi := math.Atan2(y3, math.Hypot(x3, z3)) // latitude, [-pi/2, pi/2]

			sx := math.Mod(theta/(2*math.Pi)*float64(srcW)+float64(srcW), float64(srcW))
			sy := (phi/math.Pi + 0.5) * float64(srcH)

			out.Set(px, py, bilinearSample(src, bounds, sx, sy))
		}
	}
	return out
}

// bilinearSample samples src at floating-point coordinates (sx, sy),
// wrapping horizontally (the equirectangular source is a 360° wrap) and
// clamping vertically.
func bilinearSample(src image.Image, bounds image.Rectangle, sx, sy float64) color.Color {
	srcW, srcH := bounds.Dx(), bounds.Dy()

	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	wrapX := func(x int) int {
		x %= srcW
		if x < 0 {
			x += srcW
		}
		return bounds.Min.X + x
	}
	clampY := func(y int) int {
		if y < 0 {
			return bounds.Min.Y
		}
		if y >= srcH {
			return bounds.Min.Y + srcH - 1
		}
		return bounds.Min.Y + y
	}

	c00 := src.At(wrapX(x0), clampY(y0))
	c10 := src.At(wrapX(x0+1), clampY(y0))
	c01 := src.At(wrapX(x0), clampY(y0+1))
	c11 := src.At(wrapX(x0+1), clampY(y0+1))

	return lerpColor(lerpColor(c00, c10, fx), lerpColor(c01, c11, fx), fy)
}

func lerpColor(a, b color.Color, t float64) color.Color {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	lerp := func(x, y uint32) uint8 {
		v := float64(x)*(1-t) + float64(y)*t
		return uint8(v / 256)
	}
	return color.RGBA{
		R: lerp(ar, br),
		G: lerp(ag, bg),
		B: lerp(ab, bb),
		A: lerp(aa, ba),
	}
}
