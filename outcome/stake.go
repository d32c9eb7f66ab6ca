package outcome

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// StakeManager is a positive progression: raise after a win up to the
// cap, back to the initial stake after a loss.
type StakeManager struct {
	Initial     decimal.Decimal
	Max         decimal.Decimal
	IncreasePct decimal.Decimal
}

func NewStakeManager(initial, maxStake, increasePct float64) *StakeManager {
	return &StakeManager{
		Initial:     decimal.NewFromFloat(initial),
		Max:         decimal.NewFromFloat(maxStake),
		IncreasePct: decimal.NewFromFloat(increasePct),
	}
}

func (s *StakeManager) AdjustStake(o Outcome, current decimal.Decimal) decimal.Decimal {
	switch o {
	case Win:
		next := current.Mul(decimal.NewFromInt(1).Add(s.IncreasePct.Div(hundred)))
		return s.clamp(next)
	case Loss:
		return s.Initial
	default:
		return s.clamp(current)
	}
}

func (s *StakeManager) clamp(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(v, s.Max)
}
