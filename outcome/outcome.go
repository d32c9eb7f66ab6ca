// Package outcome settles a round: result, winnings, the advisory
// balance check and the next stake.
package outcome

import (
	"context"

	"github.com/shopspring/decimal"

	"crashpilot/sensor"
)

type Outcome string

const (
	Win       Outcome = "WIN"
	Loss      Outcome = "LOSS"
	Uncertain Outcome = "UNCERTAIN"
)

// ProcessOutcome: a successful exit wins; otherwise a detected crash or
// an incomplete monitoring phase loses; anything else is uncertain.
func ProcessOutcome(cashoutSuccess, crashDetected, monitoringCompleted bool) Outcome {
	switch {
	case cashoutSuccess:
		return Win
	case crashDetected || !monitoringCompleted:
		return Loss
	default:
		return Uncertain
	}
}

// CalculateWinnings returns stake*multiplier and the profit over stake.
func CalculateWinnings(stake decimal.Decimal, multiplier float64) (winnings, profit decimal.Decimal) {
	winnings = stake.Mul(decimal.NewFromFloat(multiplier))
	return winnings, winnings.Sub(stake)
}

// Settle applies the outcome to the stake: winnings only on a WIN, the
// whole stake lost on a LOSS, nothing booked when uncertain.
func Settle(o Outcome, stake decimal.Decimal, multiplier float64) (winnings, profit decimal.Decimal) {
	switch o {
	case Win:
		return CalculateWinnings(stake, multiplier)
	case Loss:
		return decimal.Zero, stake.Neg()
	default:
		return decimal.Zero, decimal.Zero
	}
}

// BalanceCheck is the advisory comparison of the balance delta against
// the outcome. Mismatch never aborts anything.
type BalanceCheck struct {
	Checked  bool            `json:"checked"`
	Before   decimal.Decimal `json:"before"`
	After    decimal.Decimal `json:"after"`
	Delta    decimal.Decimal `json:"delta"`
	Expected string          `json:"expected,omitempty"` // increase | decrease
	Match    bool            `json:"match"`
	Reason   string          `json:"reason,omitempty"`
}

type BalanceVerifier struct {
	sensor sensor.BalanceSensor
	before decimal.Decimal
	have   bool
}

// NewBalanceVerifier accepts a nil sensor; every check then reports
// Checked=false.
func NewBalanceVerifier(s sensor.BalanceSensor) *BalanceVerifier {
	return &BalanceVerifier{sensor: s}
}

// Snapshot records the pre-round balance.
func (v *BalanceVerifier) Snapshot(ctx context.Context) (decimal.Decimal, bool) {
	v.have = false
	if v.sensor == nil {
		return decimal.Zero, false
	}
	v.before, v.have = v.sensor.Read(ctx)
	return v.before, v.have
}

func (v *BalanceVerifier) Verify(ctx context.Context, o Outcome) BalanceCheck {
	var res BalanceCheck
	switch {
	case v.sensor == nil:
		res.Reason = "no_balance_sensor"
		return res
	case !v.have:
		res.Reason = "no_snapshot"
		return res
	case o == Uncertain:
		res.Reason = "outcome_uncertain"
		return res
	}

	after, ok := v.sensor.Read(ctx)
	if !ok {
		res.Reason = "balance_unreadable"
		return res
	}
	res.Checked = true
	res.Before, res.After = v.before, after
	res.Delta = after.Sub(v.before)
	if o == Win {
		res.Expected = "increase"
		res.Match = res.Delta.IsPositive()
	} else {
		res.Expected = "decrease"
		res.Match = res.Delta.IsNegative()
	}
	if !res.Match {
		res.Reason = "delta_mismatch"
	}
	return res
}
