package stats

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ err error }

func (f failingSink) Record(Event) error { return f.err }

func TestMemoryTotals(t *testing.T) {
	m := NewMemory(2)
	require.NoError(t, m.Record(Event{Kind: BetPlaced, Stake: decimal.NewFromInt(100)}))
	require.NoError(t, m.Record(Event{Kind: BetPlaced, Stake: decimal.NewFromInt(120)}))
	require.NoError(t, m.Record(Event{Kind: RoundOutcome, Outcome: "WIN", Profit: decimal.NewFromInt(30)}))
	require.NoError(t, m.Record(Event{Kind: RoundOutcome, Outcome: "LOSS", Profit: decimal.NewFromInt(-120)}))
	require.NoError(t, m.Record(Event{Kind: BetFailed}))

	tot := m.Totals()
	assert.Equal(t, 2, tot.BetsPlaced)
	assert.Equal(t, 1, tot.BetsFailed)
	assert.Equal(t, 1, tot.Wins)
	assert.Equal(t, 1, tot.Losses)
	assert.True(t, tot.TotalStaked.Equal(decimal.NewFromInt(220)))
	assert.True(t, tot.NetProfit.Equal(decimal.NewFromInt(-90)))
	assert.Len(t, m.Events(), 2)
}

func TestMultiJoinsErrors(t *testing.T) {
	mem := NewMemory(0)
	boom := errors.New("boom")
	err := Multi{failingSink{boom}, nil, mem, Nop{}}.Record(Event{Kind: BetPlaced})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mem.Totals().BetsPlaced)
}

type panickingSink struct{}

func (panickingSink) Record(Event) error { panic("sink exploded") }

func TestRecordRecoversPanics(t *testing.T) {
	err := Record(panickingSink{}, Event{Kind: CashoutSuccess})
	assert.ErrorContains(t, err, "sink exploded")

	boom := errors.New("boom")
	assert.ErrorIs(t, Record(failingSink{boom}, Event{}), boom)
	assert.NoError(t, Record(nil, Event{}))

	mem := NewMemory(0)
	require.NoError(t, Record(mem, Event{Kind: BetPlaced}))
	assert.Equal(t, 1, mem.Totals().BetsPlaced)
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, s.Record(Event{Kind: BetPlaced, Stake: decimal.NewFromInt(10)}))
	require.NoError(t, s.Record(Event{Kind: CashoutSuccess}))
	require.NoError(t, s.Record(Event{Kind: RoundOutcome, Outcome: "WIN", Profit: decimal.NewFromInt(3), Multiplier: 1.3}))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.bets.WithLabelValues("placed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(s.staked))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.rounds.WithLabelValues("WIN")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.profit))
	assert.Equal(t, 1.3, testutil.ToFloat64(s.lastMult))

	_, err = NewPrometheusSink(reg)
	assert.Error(t, err, "double registration must fail")
}

func TestRedisSink(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	s := NewRedisSink(client, "test-"+uuid.NewString())
	defer client.Del(ctx, s.Key())

	require.NoError(t, s.Record(Event{Kind: BetPlaced, Stake: decimal.NewFromInt(10)}))
	require.NoError(t, s.Record(Event{Kind: RoundOutcome, Outcome: "WIN", Profit: decimal.NewFromInt(3)}))

	vals, err := client.HGetAll(ctx, s.Key()).Result()
	require.NoError(t, err)
	assert.Equal(t, "1", vals["bet_placed"])
	assert.Equal(t, "1", vals["outcome:WIN"])
	assert.Equal(t, "3", vals["profit"])
}
