// Command simstats plays the betting loop against the simulated table on a
// virtual clock and prints the session result and the crash distribution.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/crypto"
	"crashpilot/game"
	"crashpilot/orchestrator"
	"crashpilot/signal"
	"crashpilot/stats"
	"crashpilot/tracker"
)

// roundLimit closes the source once the table has played n rounds.
type roundLimit struct {
	table *game.Table
	n     int
	inner signal.Source
}

func (r roundLimit) Next(ctx context.Context) (signal.Signal, error) {
	if round, _ := r.table.Round(); round.Number > r.n {
		return signal.Signal{}, signal.ErrSourceClosed
	}
	return r.inner.Next(ctx)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	rounds := flag.Int("rounds", 0, "table rounds to play (default sim.rounds)")
	seedFlag := flag.String("seed", "", "server seed (default sim.seed or random)")
	verbose := flag.Bool("v", false, "log every phase")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	cfg.Sim.Enabled = true
	if *rounds > 0 {
		cfg.Sim.Rounds = *rounds
	}
	if *seedFlag != "" {
		cfg.Sim.Seed = *seedFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if !*verbose {
		logrus.SetLevel(logrus.WarnLevel)
	}

	seed := crypto.SeedFrom(cfg.Sim.Seed)
	if cfg.Sim.Seed == "" {
		if seed, err = crypto.NewServerSeed(); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	}

	clk := clock.NewFake(time.Now())
	table := game.NewTable(game.FromConfig(cfg), seed, clk)
	mem := stats.NewMemory(0)
	orch, _ := orchestrator.Build(cfg, orchestrator.Ports{
		Multiplier: table,
		Balance:    table.BalanceSensor(),
		Actuator:   table,
		Probe:      color.NewPixelProbe(table),
		Stake:      table,
	}, orchestrator.Wiring{Stats: mem, Clock: clk})

	source := roundLimit{
		table: table,
		n:     cfg.Sim.Rounds,
		inner: signal.NewColdStreakSource(signal.ColdStreakFromConfig(cfg), table),
	}

	fmt.Printf("Playing %d simulated rounds (seed hash %s)...\n\n", cfg.Sim.Rounds, seed.Hash)
	reason, err := orch.Run(context.Background(), source)
	if err != nil && !errors.Is(err, signal.ErrSourceClosed) {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	snap := orch.Session().Snapshot()
	totals := mem.Totals()
	fmt.Printf("Stopped: %s\n", reason)
	fmt.Printf("Bets: %d placed | %d failed | cashouts %d ok, %d failed\n",
		totals.BetsPlaced, totals.BetsFailed, totals.CashoutsSuccess, totals.CashoutsFailed)
	fmt.Printf("Rounds: %d | WIN %d | LOSS %d | UNCERTAIN %d\n", snap.Rounds, snap.Wins, snap.Losses, snap.Uncertain)
	fmt.Printf("Staked: %s | Net: %s | Next stake: %s\n", totals.TotalStaked, snap.NetProfit, snap.CurrentStake)
	fmt.Printf("Table balance: %s\n\n", table.Balance())

	hist := table.History()
	printDistribution(hist)
	verifyRounds(seed, hist)
}

// verifyRounds replays every crash point from the revealed seed.
func verifyRounds(seed crypto.Seed, hist []tracker.RoundSummary) {
	bad := 0
	for _, r := range hist {
		if !game.VerifyRound(seed.Value, seed.Hash, fmt.Sprintf("round-%d", r.Round), r.CrashMultiplier) {
			bad++
		}
	}
	if bad > 0 {
		fmt.Printf("\n❌ %d of %d rounds failed verification\n", bad, len(hist))
		return
	}
	fmt.Printf("\n✅ all %d rounds verify against seed %s\n", len(hist), seed.Value)
}

func printDistribution(hist []tracker.RoundSummary) {
	if len(hist) == 0 {
		return
	}
	buckets := []float64{1.2, 1.5, 2, 5, 10}
	counts := make([]int, len(buckets)+1)
	points := make([]float64, 0, len(hist))
	for _, r := range hist {
		points = append(points, r.CrashMultiplier)
		i := sort.SearchFloat64s(buckets, r.CrashMultiplier)
		if i < len(buckets) && r.CrashMultiplier == buckets[i] {
			i++
		}
		counts[i]++
	}
	sort.Float64s(points)

	fmt.Printf("Crash distribution over %d rounds (median %.2fx):\n", len(points), points[len(points)/2])
	lo := 1.0
	for i, hi := range buckets {
		fmt.Printf("   [%5.2fx, %5.2fx)  %3d  %5.1f%%\n", lo, hi, counts[i], pct(counts[i], len(points)))
		lo = hi
	}
	fmt.Printf("   [%5.2fx,    +  )  %3d  %5.1f%%\n", lo, counts[len(buckets)], pct(counts[len(buckets)], len(points)))
}

func pct(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}
