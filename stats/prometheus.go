package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exports counters for the /metrics endpoint.
type PrometheusSink struct {
	bets     *prometheus.CounterVec
	cashouts *prometheus.CounterVec
	rounds   *prometheus.CounterVec
	staked   prometheus.Counter
	profit   prometheus.Gauge
	lastMult prometheus.Gauge
}

// NewPrometheusSink registers its collectors on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		bets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crashpilot",
			Name:      "bets_total",
			Help:      "Bet placements by result.",
		}, []string{"result"}),
		cashouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crashpilot",
			Name:      "cashouts_total",
			Help:      "Cashout attempts by result.",
		}, []string{"result"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crashpilot",
			Name:      "rounds_total",
			Help:      "Finished rounds by outcome.",
		}, []string{"outcome"}),
		staked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crashpilot",
			Name:      "staked_total",
			Help:      "Sum of all placed stakes.",
		}),
		profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crashpilot",
			Name:      "net_profit",
			Help:      "Running session profit.",
		}),
		lastMult: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crashpilot",
			Name:      "last_multiplier",
			Help:      "Final multiplier of the last round.",
		}),
	}
	for _, c := range []prometheus.Collector{s.bets, s.cashouts, s.rounds, s.staked, s.profit, s.lastMult} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Record(e Event) error {
	switch e.Kind {
	case BetPlaced:
		s.bets.WithLabelValues("placed").Inc()
		s.staked.Add(e.Stake.InexactFloat64())
	case BetFailed:
		s.bets.WithLabelValues("failed").Inc()
	case CashoutSuccess:
		s.cashouts.WithLabelValues("success").Inc()
	case CashoutFailed:
		s.cashouts.WithLabelValues("failed").Inc()
	case RoundOutcome:
		s.rounds.WithLabelValues(e.Outcome).Inc()
		s.profit.Add(e.Profit.InexactFloat64())
		s.lastMult.Set(e.Multiplier)
	}
	return nil
}
