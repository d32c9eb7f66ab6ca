package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/config"
)

// PostgresLedger stores rounds, signals and observed game rounds.
type PostgresLedger struct {
	Pool *pgxpool.Pool
	log  *logrus.Entry
}

// NewPostgresLedger connects, pings and initializes the schema.
func NewPostgresLedger(ctx context.Context, databaseURL string) (*PostgresLedger, error) {
	log := logrus.WithField("component", "postgres")
	log.Info("🔌 Connecting to PostgreSQL...")

	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = config.PostgresMaxConns
	poolConfig.MinConns = config.PostgresMinConns
	poolConfig.MaxConnLifetime = config.PostgresMaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("✅ PostgreSQL connected successfully")

	l := &PostgresLedger{Pool: pool, log: log}
	if err := l.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) Close() {
	if l.Pool != nil {
		l.log.Info("🔌 Closing PostgreSQL connection...")
		l.Pool.Close()
	}
}

// InitSchema creates the tables if they don't exist.
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	l.log.Info("📋 Initializing database schema...")

	roundsSchema := `
	CREATE TABLE IF NOT EXISTS bot_rounds (
		id SERIAL PRIMARY KEY,
		round_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		signal_id TEXT,
		phase TEXT NOT NULL,
		failure_reason TEXT,
		outcome TEXT,
		stake NUMERIC(20,8) NOT NULL,
		winnings NUMERIC(20,8) NOT NULL DEFAULT 0,
		profit NUMERIC(20,8) NOT NULL DEFAULT 0,
		new_stake NUMERIC(20,8) NOT NULL,
		target_multiplier DOUBLE PRECISION,
		final_multiplier DOUBLE PRECISION,
		interpretation TEXT,
		balance_checked BOOLEAN NOT NULL DEFAULT FALSE,
		balance_match BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_bot_rounds_session ON bot_rounds(session_id);
	CREATE INDEX IF NOT EXISTS idx_bot_rounds_created_at ON bot_rounds(created_at DESC);
	`
	if _, err := l.Pool.Exec(ctx, roundsSchema); err != nil {
		return fmt.Errorf("failed to create bot_rounds table: %w", err)
	}

	signalsSchema := `
	CREATE TABLE IF NOT EXISTS bot_signals (
		id SERIAL PRIMARY KEY,
		signal_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		prediction TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		target_multiplier DOUBLE PRECISION NOT NULL,
		strategy TEXT,
		source TEXT,
		accepted BOOLEAN NOT NULL,
		reasons JSONB,
		features JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE(signal_id, session_id)
	);
	`
	if _, err := l.Pool.Exec(ctx, signalsSchema); err != nil {
		return fmt.Errorf("failed to create bot_signals table: %w", err)
	}

	gameRoundsSchema := `
	CREATE TABLE IF NOT EXISTS observed_rounds (
		id SERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL,
		max_multiplier DOUBLE PRECISION NOT NULL,
		crash_multiplier DOUBLE PRECISION NOT NULL,
		reason TEXT,
		UNIQUE(session_id, round)
	);

	CREATE INDEX IF NOT EXISTS idx_observed_rounds_ended_at ON observed_rounds(ended_at DESC);
	`
	if _, err := l.Pool.Exec(ctx, gameRoundsSchema); err != nil {
		return fmt.Errorf("failed to create observed_rounds table: %w", err)
	}

	l.log.Info("✅ Database schema initialized")
	return nil
}

/* =========================
   BOT ROUNDS
========================= */

func (l *PostgresLedger) InsertRound(ctx context.Context, r RoundRow) error {
	query := `
		INSERT INTO bot_rounds (round_id, session_id, signal_id, phase, failure_reason, outcome,
			stake, winnings, profit, new_stake, target_multiplier, final_multiplier,
			interpretation, balance_checked, balance_match, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14, $15, $16)
		ON CONFLICT (round_id) DO NOTHING
	`
	_, err := l.Pool.Exec(ctx, query,
		r.RoundID, r.SessionID, r.SignalID, r.Phase, r.FailureReason, r.Outcome,
		r.Stake.String(), r.Winnings.String(), r.Profit.String(), r.NewStake.String(),
		r.TargetMultiplier, r.FinalMultiplier, r.Interpretation,
		r.BalanceChecked, r.BalanceMatch, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store round: %w", err)
	}
	return nil
}

func (l *PostgresLedger) RecentRounds(ctx context.Context, limit int) ([]RoundRow, error) {
	query := `
		SELECT round_id, session_id, COALESCE(signal_id, ''), phase, COALESCE(failure_reason, ''),
			COALESCE(outcome, ''), stake::text, winnings::text, profit::text, new_stake::text,
			COALESCE(target_multiplier, 0), COALESCE(final_multiplier, 0), COALESCE(interpretation, ''),
			balance_checked, balance_match, created_at
		FROM bot_rounds
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := l.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var stake, winnings, profit, newStake string
		if err := rows.Scan(&r.RoundID, &r.SessionID, &r.SignalID, &r.Phase, &r.FailureReason,
			&r.Outcome, &stake, &winnings, &profit, &newStake,
			&r.TargetMultiplier, &r.FinalMultiplier, &r.Interpretation,
			&r.BalanceChecked, &r.BalanceMatch, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		if err := parseMoney(&r, stake, winnings, profit, newStake); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseMoney(r *RoundRow, stake, winnings, profit, newStake string) error {
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.Stake, stake}, {&r.Winnings, winnings}, {&r.Profit, profit}, {&r.NewStake, newStake},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return fmt.Errorf("failed to parse amount %q: %w", f.src, err)
		}
	}
	return nil
}

/* =========================
   SIGNALS
========================= */

func (l *PostgresLedger) InsertSignal(ctx context.Context, s SignalRow) error {
	reasons, err := json.Marshal(s.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	features, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	query := `
		INSERT INTO bot_signals (signal_id, session_id, prediction, confidence, target_multiplier,
			strategy, source, accepted, reasons, features, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (signal_id, session_id) DO NOTHING
	`
	if _, err := l.Pool.Exec(ctx, query, s.SignalID, s.SessionID, s.Prediction, s.Confidence,
		s.TargetMultiplier, s.Strategy, s.Source, s.Accepted, reasons, features, s.CreatedAt); err != nil {
		return fmt.Errorf("failed to store signal: %w", err)
	}
	return nil
}

/* =========================
   OBSERVED ROUNDS
========================= */

func (l *PostgresLedger) InsertGameRound(ctx context.Context, g GameRoundRow) error {
	query := `
		INSERT INTO observed_rounds (session_id, round, started_at, ended_at, max_multiplier, crash_multiplier, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, round) DO NOTHING
	`
	if _, err := l.Pool.Exec(ctx, query, g.SessionID, g.Round, g.StartedAt, g.EndedAt,
		g.MaxMultiplier, g.CrashMultiplier, g.Reason); err != nil {
		return fmt.Errorf("failed to store observed round: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (l *PostgresLedger) HealthCheck(ctx context.Context) error {
	return l.Pool.Ping(ctx)
}
