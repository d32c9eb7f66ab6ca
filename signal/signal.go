// Package signal carries the external betting decision into the round
// and gates it before any money moves.
package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crashpilot/config"
)

var (
	// ErrNoSignal means nothing is ready yet; try again next round.
	ErrNoSignal = errors.New("no signal available")
	// ErrSourceClosed means the source will never produce again.
	ErrSourceClosed = errors.New("signal source closed")
)

const (
	PredictionBet  = "BET"
	PredictionSkip = "SKIP"
)

type Signal struct {
	ID               string             `json:"id"`
	Prediction       string             `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	TargetMultiplier float64            `json:"target_multiplier"`
	Features         map[string]float64 `json:"features,omitempty"`
	Position         int                `json:"position"`
	Strategy         string             `json:"strategy,omitempty"`
	Source           string             `json:"source,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

type Source interface {
	Next(ctx context.Context) (Signal, error)
}

// Gate is the confidence and strategy check of the signal phase.
type Gate struct {
	MinConfidence     float64
	MinTarget         float64
	MaxTarget         float64
	AllowedStrategies []string
}

func GateFromConfig(s config.SessionConfig) Gate {
	return Gate{
		MinConfidence:     s.MinConfidence,
		MinTarget:         s.MinTarget,
		MaxTarget:         s.MaxTarget,
		AllowedStrategies: s.AllowedStrategies,
	}
}

// Validate returns the reasons the signal is rejected; none means accept.
func (g Gate) Validate(s Signal) []string {
	var reasons []string
	if s.Prediction != PredictionBet {
		reasons = append(reasons, fmt.Sprintf("prediction %q", s.Prediction))
	}
	if s.Confidence < g.MinConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f < %.2f", s.Confidence, g.MinConfidence))
	}
	if s.TargetMultiplier < g.MinTarget || (g.MaxTarget > 0 && s.TargetMultiplier > g.MaxTarget) {
		reasons = append(reasons, fmt.Sprintf("target %.2fx outside [%.2f, %.2f]", s.TargetMultiplier, g.MinTarget, g.MaxTarget))
	}
	if len(g.AllowedStrategies) > 0 && !contains(g.AllowedStrategies, s.Strategy) {
		reasons = append(reasons, fmt.Sprintf("strategy %q not allowed", s.Strategy))
	}
	return reasons
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
