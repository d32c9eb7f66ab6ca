package orchestrator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"crashpilot/risk"
	"crashpilot/sensor"
	"crashpilot/state"
)

// PreBetValidator runs the checks that must pass before money moves.
// An empty result means the bet may be placed.
type PreBetValidator interface {
	Validate(ctx context.Context, stake decimal.Decimal) []string
}

// StateValidator checks the table and session: game not crashed, sensor
// functional, no active bet, stake in (0, MaxStake], actuation healthy.
type StateValidator struct {
	Sensor   sensor.MultiplierSensor
	Session  *state.Session
	MaxStake decimal.Decimal
	Breaker  *risk.CircuitBreaker
}

func (v StateValidator) Validate(ctx context.Context, stake decimal.Decimal) []string {
	var reasons []string

	if v.Sensor != nil {
		r := v.Sensor.ReadWithStatus(ctx)
		switch {
		case !r.Valid && (r.Status == "" || r.Status == sensor.StatusUnknown):
			reasons = append(reasons, "sensor not functional")
		case r.Status == sensor.StatusCrashed:
			reasons = append(reasons, "game crashed")
		}
	}
	if v.Session != nil && v.Session.HasActiveBet() {
		reasons = append(reasons, "bet already active")
	}
	if !stake.IsPositive() {
		reasons = append(reasons, fmt.Sprintf("stake %s not positive", stake))
	} else if v.MaxStake.IsPositive() && stake.GreaterThan(v.MaxStake) {
		reasons = append(reasons, fmt.Sprintf("stake %s above max %s", stake, v.MaxStake))
	}
	if err := v.Breaker.Allow(); err != nil {
		reasons = append(reasons, err.Error())
	}
	return reasons
}

// ValidatorFunc adapts a plain function.
type ValidatorFunc func(ctx context.Context, stake decimal.Decimal) []string

func (f ValidatorFunc) Validate(ctx context.Context, stake decimal.Decimal) []string {
	return f(ctx, stake)
}
