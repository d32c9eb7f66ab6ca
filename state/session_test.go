package state

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/outcome"
)

func round(o outcome.Outcome, profit, next string) outcome.Summary {
	return outcome.Summary{
		Outcome:  o,
		Profit:   decimal.RequireFromString(profit),
		NewStake: decimal.RequireFromString(next),
	}
}

func TestSessionAppendRound(t *testing.T) {
	s := NewSession(decimal.NewFromInt(10), 2)

	s.AppendRound(round(outcome.Loss, "-10", "10"))
	s.AppendRound(round(outcome.Loss, "-10", "10"))
	assert.Equal(t, 2, s.LossStreak())

	s.AppendRound(round(outcome.Win, "3", "12"))
	assert.Equal(t, 0, s.LossStreak())
	assert.True(t, s.Stake().Equal(decimal.NewFromInt(12)))

	s.AppendRound(round(outcome.Uncertain, "0", "12"))
	snap := s.Snapshot()
	assert.Equal(t, 4, snap.Rounds)
	assert.Equal(t, 1, snap.Wins)
	assert.Equal(t, 2, snap.Losses)
	assert.Equal(t, 1, snap.Uncertain)
	assert.True(t, snap.NetProfit.Equal(decimal.NewFromInt(-17)))
	assert.Len(t, s.History(), 2)
}

func TestSessionSnapshotRoundTripDropsActiveBet(t *testing.T) {
	s := NewSession(decimal.NewFromInt(10), 0)
	s.AppendRound(round(outcome.Loss, "-10", "10"))
	s.SetActiveBet(true)

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.True(t, snap.ActiveBet)

	restored := NewSession(decimal.NewFromInt(1), 0)
	restored.Restore(snap)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, 1, restored.LossStreak())
	assert.False(t, restored.HasActiveBet())
	assert.Len(t, restored.History(), 1)
}
