// Package color classifies probed button colors against the table palette.
package color

import (
	"math"

	"crashpilot/config"
	"crashpilot/sensor"
)

type Target struct {
	Label string
	RGB   sensor.RGB
}

// Match is the classification of one sample.
type Match struct {
	Label      string  `json:"label"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	ByHue      bool    `json:"byHue"`
}

type Config struct {
	Tolerance     float64 // RGB distance that still counts as a full match
	HueTolerance  float64 // degrees
	DarkValue     float64 // HSV value below which the hue override applies
	MinSaturation float64
}

func DefaultConfig() Config {
	return Config{
		Tolerance:     config.ColorTolerance,
		HueTolerance:  config.ColorHueTolerance,
		DarkValue:     config.ColorDarkValue,
		MinSaturation: config.ColorMinSaturation,
	}
}

type Matcher struct {
	cfg     Config
	targets []Target
}

func NewMatcher(cfg Config, targets ...Target) *Matcher {
	return &Matcher{cfg: cfg, targets: targets}
}

// FromConfig builds the three-state matcher (available, in progress,
// ended) from the colors config section.
func FromConfig(c config.ColorsConfig) *Matcher {
	return NewMatcher(Config{
		Tolerance:     c.Tolerance,
		HueTolerance:  c.HueTolerance,
		DarkValue:     c.DarkValue,
		MinSaturation: c.MinSaturation,
	},
		Target{Label: config.LabelAvailable, RGB: triple(c.Available)},
		Target{Label: config.LabelInProgress, RGB: triple(c.InProgress)},
		Target{Label: config.LabelEnded, RGB: triple(c.Ended)},
	)
}

// Default uses the built-in palette.
func Default() *Matcher {
	c := config.ColorsConfig{
		Available:     config.DefaultAvailableRGB,
		InProgress:    config.DefaultInProgressRGB,
		Ended:         config.DefaultEndedRGB,
		Tolerance:     config.ColorTolerance,
		HueTolerance:  config.ColorHueTolerance,
		DarkValue:     config.ColorDarkValue,
		MinSaturation: config.ColorMinSaturation,
	}
	return FromConfig(c)
}

func triple(v [3]int) sensor.RGB {
	return sensor.RGB{R: uint8(v[0]), G: uint8(v[1]), B: uint8(v[2])}
}

func (m *Matcher) Targets() []Target {
	out := make([]Target, len(m.targets))
	copy(out, m.targets)
	return out
}

// Target returns the palette entry for label.
func (m *Matcher) Target(label string) (sensor.RGB, bool) {
	for _, t := range m.targets {
		if t.Label == label {
			return t.RGB, true
		}
	}
	return sensor.RGB{}, false
}

// Match returns the closest target by RGB distance. For dark but
// saturated samples a hue match may replace it when its confidence is
// strictly higher.
func (m *Matcher) Match(c sensor.RGB) Match {
	best := Match{Distance: math.Inf(1)}
	for _, t := range m.targets {
		d := Distance(c, t.RGB)
		if d < best.Distance {
			best = Match{Label: t.Label, Distance: d, Confidence: m.confidence(d)}
		}
	}

	h, s, v := ToHSV(c)
	if v >= m.cfg.DarkValue || s < m.cfg.MinSaturation {
		return best
	}
	for _, t := range m.targets {
		th, ts, _ := ToHSV(t.RGB)
		if ts < m.cfg.MinSaturation {
			continue
		}
		diff := HueDiff(h, th)
		if diff > m.cfg.HueTolerance {
			continue
		}
		conf := 1 - diff/180
		if conf > best.Confidence {
			best = Match{Label: t.Label, Distance: Distance(c, t.RGB), Confidence: conf, ByHue: true}
		}
	}
	return best
}

func (m *Matcher) confidence(d float64) float64 {
	if d <= m.cfg.Tolerance {
		return 1
	}
	return math.Max(0, 1-d/255)
}

// Is reports whether c matches label with full confidence.
func (m *Matcher) Is(c sensor.RGB, label string) bool {
	mt := m.Match(c)
	return mt.Label == label && mt.Confidence >= 1
}

// Distance is the euclidean distance in RGB space.
func Distance(a, b sensor.RGB) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// ToHSV returns hue in degrees [0,360), saturation and value in [0,1].
func ToHSV(c sensor.RGB) (h, s, v float64) {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	b := float64(c.B) / 255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max > 0 {
		s = delta / max
	}
	if delta == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// HueDiff is the shortest angular distance between two hues.
func HueDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}
