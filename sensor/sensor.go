// Package sensor declares the ports the control loop reads from and
// actuates through. Implementations (OCR, DOM scraping, screen capture,
// mouse control) live outside this module or in adapters such as the
// websocket feed and the simulated table.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/shopspring/decimal"
)

var ErrSensorUnavailable = errors.New("sensor unavailable")

// Status labels reported alongside a multiplier reading.
const (
	StatusWaiting  = "WAITING"
	StatusStarting = "STARTING"
	StatusRunning  = "RUNNING"
	StatusHigh     = "HIGH"
	StatusCrashed  = "CRASHED"
	StatusUnknown  = "UNKNOWN"
)

type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func (c RGB) String() string { return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B) }

// ColorSample is one probe result with the time it was taken.
type ColorSample struct {
	Color RGB
	At    time.Time
}

// Reading is one multiplier sensor sample. Valid is false when the
// sensor produced no number (blank display, OCR miss, lost feed).
type Reading struct {
	Multiplier float64
	Valid      bool
	Status     string
	Message    string
}

func (r Reading) String() string {
	if !r.Valid {
		return fmt.Sprintf("none [%s]", r.Status)
	}
	return fmt.Sprintf("%.2fx [%s]", r.Multiplier, r.Status)
}

type MultiplierSensor interface {
	Read(ctx context.Context) (float64, bool)
	ReadWithStatus(ctx context.Context) Reading
}

type BalanceSensor interface {
	Read(ctx context.Context) (decimal.Decimal, bool)
}

// ActuationPort clicks a screen point. ok=false means the click was not
// delivered; err reports a failure of the port itself.
type ActuationPort interface {
	Click(ctx context.Context, p Point) (ok bool, err error)
}

// ColorProbe samples the color around a point.
type ColorProbe interface {
	Sample(ctx context.Context, p Point, radius int) (RGB, bool)
}

// Screen hands out raw pixels for a rectangle.
type Screen interface {
	Capture(ctx context.Context, rect image.Rectangle) (image.Image, error)
}

// StakeInput types the stake into the table's amount field. Optional:
// tables with a fixed chip skip it.
type StakeInput interface {
	SetStake(ctx context.Context, amount decimal.Decimal) error
}
