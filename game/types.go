package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

// Round is one simulated play. CrashPoint is fixed before it starts.
type Round struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	SeedHash   string    `json:"seedHash"`
	CrashPoint float64   `json:"crashPoint"`
	OpensAt    time.Time `json:"opensAt"`
	StartsAt   time.Time `json:"startsAt"`
	CrashesAt  time.Time `json:"crashesAt"`
}

// Bet is the bot's position in the current or last round.
type Bet struct {
	Round       int             `json:"round"`
	Stake       decimal.Decimal `json:"stake"`
	CashedOut   bool            `json:"cashedOut"`
	CashoutAt   time.Time       `json:"cashoutAt"`
	CashoutMult float64         `json:"cashoutMult"`
	Lost        bool            `json:"lost"`
}
