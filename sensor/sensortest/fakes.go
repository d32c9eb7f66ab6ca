// Package sensortest provides scriptable in-memory sensor ports.
package sensortest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"crashpilot/sensor"
)

// Multiplier replays a scripted list of readings, one per call. The last
// reading repeats once the script is exhausted. Fn, when set, wins.
type Multiplier struct {
	mu     sync.Mutex
	Script []sensor.Reading
	Fn     func() sensor.Reading
	calls  int
}

func Value(m float64, status string) sensor.Reading {
	return sensor.Reading{Multiplier: m, Valid: true, Status: status}
}

func Lost() sensor.Reading {
	return sensor.Reading{Status: sensor.StatusUnknown}
}

// Readings builds RUNNING readings from plain values.
func Readings(values ...float64) []sensor.Reading {
	out := make([]sensor.Reading, len(values))
	for i, v := range values {
		out[i] = Value(v, sensor.StatusRunning)
	}
	return out
}

func (m *Multiplier) ReadWithStatus(ctx context.Context) sensor.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Fn != nil {
		return m.Fn()
	}
	if len(m.Script) == 0 {
		return Lost()
	}
	i := m.calls - 1
	if i >= len(m.Script) {
		i = len(m.Script) - 1
	}
	return m.Script[i]
}

func (m *Multiplier) Read(ctx context.Context) (float64, bool) {
	r := m.ReadWithStatus(ctx)
	return r.Multiplier, r.Valid
}

func (m *Multiplier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Balance returns scripted balances in order, repeating the last one.
type Balance struct {
	mu     sync.Mutex
	Values []decimal.Decimal
	calls  int
}

func (b *Balance) Read(ctx context.Context) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.Values) == 0 {
		return decimal.Zero, false
	}
	i := b.calls - 1
	if i >= len(b.Values) {
		i = len(b.Values) - 1
	}
	return b.Values[i], true
}

// Actuator records clicks. Results are consumed in order; when empty
// every click succeeds. OnClick runs after each recorded click.
type Actuator struct {
	mu      sync.Mutex
	Results []bool
	Err     error
	OnClick func(p sensor.Point)
	clicks  []sensor.Point
}

func (a *Actuator) Click(ctx context.Context, p sensor.Point) (bool, error) {
	a.mu.Lock()
	if a.Err != nil {
		a.mu.Unlock()
		return false, a.Err
	}
	a.clicks = append(a.clicks, p)
	ok := true
	if len(a.Results) > 0 {
		ok = a.Results[0]
		a.Results = a.Results[1:]
	}
	hook := a.OnClick
	a.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return ok, nil
}

func (a *Actuator) Clicks() []sensor.Point {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sensor.Point, len(a.clicks))
	copy(out, a.clicks)
	return out
}

// Probe answers with Fn when set, otherwise replays Script per call
// (repeating the last entry). A nil entry means the probe failed.
type Probe struct {
	mu     sync.Mutex
	Script []*sensor.RGB
	Fn     func(p sensor.Point) (sensor.RGB, bool)
	calls  int
}

func Color(c sensor.RGB) *sensor.RGB { return &c }

func (p *Probe) Sample(ctx context.Context, pt sensor.Point, radius int) (sensor.RGB, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Fn != nil {
		return p.Fn(pt)
	}
	if len(p.Script) == 0 {
		return sensor.RGB{}, false
	}
	i := p.calls - 1
	if i >= len(p.Script) {
		i = len(p.Script) - 1
	}
	if p.Script[i] == nil {
		return sensor.RGB{}, false
	}
	return *p.Script[i], true
}

func (p *Probe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
