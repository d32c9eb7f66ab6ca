package color

import (
	"context"
	"image"
	"sort"

	"github.com/sirupsen/logrus"

	"crashpilot/sensor"
)

// PixelProbe samples a square neighbourhood from a Screen and reduces it
// to the per-channel median, which shrugs off anti-aliasing and
// compression noise around button edges.
type PixelProbe struct {
	Screen sensor.Screen
}

func NewPixelProbe(s sensor.Screen) *PixelProbe {
	return &PixelProbe{Screen: s}
}

func (p *PixelProbe) Sample(ctx context.Context, pt sensor.Point, radius int) (sensor.RGB, bool) {
	if radius < 0 {
		radius = 0
	}
	rect := image.Rect(pt.X-radius, pt.Y-radius, pt.X+radius+1, pt.Y+radius+1)
	img, err := p.Screen.Capture(ctx, rect)
	if err != nil {
		logrus.WithField("point", pt.String()).Debugf("probe capture failed: %v", err)
		return sensor.RGB{}, false
	}
	return Median(img, rect)
}

// Median returns the per-channel median of img inside rect.
func Median(img image.Image, rect image.Rectangle) (sensor.RGB, bool) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return sensor.RGB{}, false
	}
	n := rect.Dx() * rect.Dy()
	rs := make([]int, 0, n)
	gs := make([]int, 0, n)
	bs := make([]int, 0, n)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			rs = append(rs, int(r>>8))
			gs = append(gs, int(g>>8))
			bs = append(bs, int(b>>8))
		}
	}
	return sensor.RGB{R: median(rs), G: median(gs), B: median(bs)}, true
}

func median(v []int) uint8 {
	sort.Ints(v)
	return uint8(v[len(v)/2])
}
