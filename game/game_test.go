package game

import (
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/crypto"
	"crashpilot/sensor"
	"crashpilot/tracker"
)

var t0 = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

func TestCrashPointDeterministicAndBounded(t *testing.T) {
	seed := crypto.SeedFrom("fairness")
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("round-%d", i)
		cp := GenerateCrashPoint(seed.Value, id)
		assert.Equal(t, cp, GenerateCrashPoint(seed.Value, id))
		assert.GreaterOrEqual(t, cp, CrashMin)
		assert.LessOrEqual(t, cp, CrashExtremeMax)
		assert.Equal(t, cp, float64(int(cp*100+0.5))/100, "two decimals")
	}
}

func TestCrashPointDistribution(t *testing.T) {
	const n = 20000
	below := 0
	for i := 0; i < n; i++ {
		if GenerateCrashPoint("dist", fmt.Sprintf("round-%d", i)) < CrashVeryLowMax {
			below++
		}
	}
	assert.InDelta(t, TierVeryLow, float64(below)/n, 0.02)
}

func TestVerifyRound(t *testing.T) {
	seed := crypto.SeedFrom("reveal-me")
	cp := GenerateCrashPoint(seed.Value, "round-7")
	assert.True(t, VerifyRound(seed.Value, seed.Hash, "round-7", cp))
	assert.False(t, VerifyRound("other", seed.Hash, "round-7", cp))
	assert.False(t, VerifyRound(seed.Value, seed.Hash, "round-7", cp+0.01))
}

func TestMultiplierCurve(t *testing.T) {
	assert.Equal(t, 1.0, MultiplierAt(config.SimGrowthRate, 0))
	assert.Equal(t, 1.0, MultiplierAt(config.SimGrowthRate, -1))
	assert.Equal(t, 2.0, MultiplierAt(config.SimGrowthRate, TimeToReach(config.SimGrowthRate, 2)+0.001))
	assert.Zero(t, TimeToReach(config.SimGrowthRate, 1))
}

// seedWithFirstCrash finds a seed whose first round crashes inside [lo, hi).
func seedWithFirstCrash(t *testing.T, lo, hi float64) crypto.Seed {
	t.Helper()
	for i := 0; i < 10000; i++ {
		s := crypto.SeedFrom(fmt.Sprintf("seed-%d", i))
		cp := GenerateCrashPoint(s.Value, "round-1")
		if cp >= lo && cp < hi {
			return s
		}
	}
	t.Fatalf("no seed with first crash in [%v, %v)", lo, hi)
	return crypto.Seed{}
}

func newTable(t *testing.T, seed crypto.Seed) (*Table, *clock.Fake, Config) {
	t.Helper()
	c := clock.NewFake(t0)
	cfg := DefaultConfig()
	return NewTable(cfg, seed, c), c, cfg
}

func TestTableWaitingPhase(t *testing.T) {
	tb, _, cfg := newTable(t, crypto.SeedFrom("waiting"))
	ctx := context.Background()

	r := tb.ReadWithStatus(ctx)
	assert.Equal(t, sensor.Reading{Multiplier: 1.0, Valid: true, Status: sensor.StatusWaiting}, r)

	c, ok := tb.Sample(ctx, cfg.BetPoint, 3)
	require.True(t, ok)
	assert.Equal(t, cfg.Available, c)
	c, _ = tb.Sample(ctx, cfg.CashoutPoint, 3)
	assert.Equal(t, cfg.InProgress, c)

	round, phase := tb.Round()
	assert.Equal(t, 1, round.Number)
	assert.Equal(t, PhaseWaiting, phase)
	assert.Equal(t, t0.Add(cfg.WaitingDuration), round.StartsAt)
}

func TestTableBetAndCashout(t *testing.T) {
	tb, clk, cfg := newTable(t, seedWithFirstCrash(t, 1.5, CrashExtremeMax))
	ctx := context.Background()

	require.NoError(t, tb.SetStake(ctx, decimal.NewFromInt(10)))
	ok, err := tb.Click(ctx, cfg.BetPoint)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, tb.Balance().Equal(decimal.NewFromInt(990)))

	// bet placed: bet button goes dark, cashout waits for the round
	c, _ := tb.Sample(ctx, cfg.BetPoint, 0)
	assert.Equal(t, cfg.Ended, c)
	c, _ = tb.Sample(ctx, cfg.CashoutPoint, 0)
	assert.Equal(t, cfg.InProgress, c)

	// second click in the same round is ignored
	_, _ = tb.Click(ctx, cfg.BetPoint)
	assert.True(t, tb.Balance().Equal(decimal.NewFromInt(990)))

	clk.Advance(cfg.WaitingDuration)
	assert.Equal(t, sensor.StatusStarting, tb.ReadWithStatus(ctx).Status)

	clk.Advance(time.Duration(TimeToReach(cfg.GrowthRate, 1.2)*float64(time.Second)) + 10*time.Millisecond)
	r := tb.ReadWithStatus(ctx)
	assert.Equal(t, sensor.StatusRunning, r.Status)
	assert.InDelta(t, 1.2, r.Multiplier, 1e-9)
	c, _ = tb.Sample(ctx, cfg.CashoutPoint, 0)
	assert.Equal(t, cfg.Available, c)

	_, err = tb.Click(ctx, cfg.CashoutPoint)
	require.NoError(t, err)
	assert.True(t, tb.Balance().Equal(decimal.NewFromInt(1002)), tb.Balance().String())
	bet, ok := tb.LastBet()
	require.True(t, ok)
	assert.True(t, bet.CashedOut)
	assert.InDelta(t, 1.2, bet.CashoutMult, 1e-9)

	// flash, then settle back to in-progress
	c, _ = tb.Sample(ctx, cfg.CashoutPoint, 0)
	assert.Equal(t, cfg.Available, c)
	clk.Advance(cfg.CashoutFlash)
	c, _ = tb.Sample(ctx, cfg.CashoutPoint, 0)
	assert.Equal(t, cfg.InProgress, c)

	bal, ok := tb.BalanceSensor().Read(ctx)
	assert.True(t, ok)
	assert.True(t, bal.Equal(decimal.NewFromInt(1002)))
}

func TestTableLostBetAndNextRound(t *testing.T) {
	seed := seedWithFirstCrash(t, 1.1, 3)
	tb, clk, cfg := newTable(t, seed)
	ctx := context.Background()
	cp := GenerateCrashPoint(seed.Value, "round-1")

	require.NoError(t, tb.SetStake(ctx, decimal.NewFromInt(25)))
	_, _ = tb.Click(ctx, cfg.BetPoint)

	round, _ := tb.Round()
	clk.Advance(round.CrashesAt.Sub(t0))
	r := tb.ReadWithStatus(ctx)
	assert.Equal(t, sensor.StatusCrashed, r.Status)
	assert.Zero(t, r.Multiplier)
	assert.Contains(t, r.Message, fmt.Sprintf("%.2fx", cp))

	// cashing out after the crash does nothing
	_, _ = tb.Click(ctx, cfg.CashoutPoint)
	bet, _ := tb.LastBet()
	assert.True(t, bet.Lost)
	assert.False(t, bet.CashedOut)
	assert.True(t, tb.Balance().Equal(decimal.NewFromInt(975)))
	c, _ := tb.Sample(ctx, cfg.CashoutPoint, 0)
	assert.Equal(t, cfg.Ended, c)

	hist := tb.History()
	require.Len(t, hist, 1)
	assert.Equal(t, 1, hist[0].Round)
	assert.Equal(t, cp, hist[0].CrashMultiplier)
	assert.Equal(t, tracker.StatusCrashed, hist[0].Status)

	clk.Advance(cfg.CrashedDuration)
	round, phase := tb.Round()
	assert.Equal(t, 2, round.Number)
	assert.Equal(t, PhaseWaiting, phase)
	c, _ = tb.Sample(ctx, cfg.BetPoint, 0)
	assert.Equal(t, cfg.Available, c)
}

func TestTableRefusesBets(t *testing.T) {
	tb, clk, cfg := newTable(t, seedWithFirstCrash(t, 2, CrashExtremeMax))
	ctx := context.Background()

	assert.Error(t, tb.SetStake(ctx, decimal.Zero))

	// no stake typed yet
	_, _ = tb.Click(ctx, cfg.BetPoint)
	_, ok := tb.LastBet()
	assert.False(t, ok)

	// more than the balance
	require.NoError(t, tb.SetStake(ctx, decimal.NewFromInt(5000)))
	_, _ = tb.Click(ctx, cfg.BetPoint)
	_, ok = tb.LastBet()
	assert.False(t, ok)

	// betting window closed
	require.NoError(t, tb.SetStake(ctx, decimal.NewFromInt(10)))
	clk.Advance(cfg.WaitingDuration + time.Second)
	_, _ = tb.Click(ctx, cfg.BetPoint)
	_, ok = tb.LastBet()
	assert.False(t, ok)
	assert.True(t, tb.Balance().Equal(cfg.StartingBalance))
}

func TestTableHighStatus(t *testing.T) {
	tb, clk, cfg := newTable(t, seedWithFirstCrash(t, 12, CrashExtremeMax))
	clk.Advance(cfg.WaitingDuration + time.Duration(TimeToReach(cfg.GrowthRate, 10.5)*float64(time.Second)))
	assert.Equal(t, sensor.StatusHigh, tb.ReadWithStatus(context.Background()).Status)
}

func TestTableCaptureThroughPixelProbe(t *testing.T) {
	tb, _, cfg := newTable(t, crypto.SeedFrom("pixels"))
	probe := color.NewPixelProbe(tb)

	got, ok := probe.Sample(context.Background(), cfg.BetPoint, 3)
	require.True(t, ok)
	assert.Equal(t, cfg.Available, got)

	_, err := tb.Capture(context.Background(), image.Rectangle{})
	assert.Error(t, err)
}

func TestTableHistoryLimit(t *testing.T) {
	c := clock.NewFake(t0)
	cfg := DefaultConfig()
	cfg.HistoryLimit = 3
	tb := NewTable(cfg, crypto.SeedFrom("history"), c)
	// every round lasts at most waiting + 200x growth + crashed
	c.Advance(10 * time.Hour)
	hist := tb.History()
	require.Len(t, hist, 3)
	assert.Equal(t, hist[0].Round+1, hist[1].Round)
	assert.Equal(t, hist[1].Round+1, hist[2].Round)
}
