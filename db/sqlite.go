package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteLedger is the local ledger used when no Postgres is configured.
// Same tables as PostgresLedger; amounts are stored as decimal text.
type SQLiteLedger struct {
	DB  *sql.DB
	log *logrus.Entry
}

func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	log := logrus.WithField("component", "sqlite")
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// one writer keeps sqlite out of SQLITE_BUSY
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{DB: db, log: log}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("✅ SQLite ledger ready at %s", path)
	return l, nil
}

func (l *SQLiteLedger) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS bot_rounds (
			round_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			signal_id TEXT,
			phase TEXT NOT NULL,
			failure_reason TEXT,
			outcome TEXT,
			stake TEXT NOT NULL,
			winnings TEXT NOT NULL,
			profit TEXT NOT NULL,
			new_stake TEXT NOT NULL,
			target_multiplier REAL,
			final_multiplier REAL,
			interpretation TEXT,
			balance_checked INTEGER NOT NULL DEFAULT 0,
			balance_match INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_rounds_created_at ON bot_rounds(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS bot_signals (
			signal_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			prediction TEXT NOT NULL,
			confidence REAL NOT NULL,
			target_multiplier REAL NOT NULL,
			strategy TEXT,
			source TEXT,
			accepted INTEGER NOT NULL,
			reasons TEXT,
			features TEXT,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (signal_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS observed_rounds (
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			max_multiplier REAL NOT NULL,
			crash_multiplier REAL NOT NULL,
			reason TEXT,
			PRIMARY KEY (session_id, round)
		)`,
	}
	for _, s := range stmts {
		if _, err := l.DB.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to initialize sqlite schema: %w", err)
		}
	}
	return nil
}

func (l *SQLiteLedger) HealthCheck(ctx context.Context) error {
	return l.DB.PingContext(ctx)
}

func (l *SQLiteLedger) Close() {
	if err := l.DB.Close(); err != nil {
		l.log.Warnf("⚠️  closing sqlite: %v", err)
	}
}

func (l *SQLiteLedger) InsertRound(ctx context.Context, r RoundRow) error {
	_, err := l.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO bot_rounds (round_id, session_id, signal_id, phase, failure_reason, outcome,
			stake, winnings, profit, new_stake, target_multiplier, final_multiplier,
			interpretation, balance_checked, balance_match, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RoundID, r.SessionID, r.SignalID, r.Phase, r.FailureReason, r.Outcome,
		r.Stake.String(), r.Winnings.String(), r.Profit.String(), r.NewStake.String(),
		r.TargetMultiplier, r.FinalMultiplier, r.Interpretation,
		r.BalanceChecked, r.BalanceMatch, r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store round: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) RecentRounds(ctx context.Context, limit int) ([]RoundRow, error) {
	rows, err := l.DB.QueryContext(ctx, `
		SELECT round_id, session_id, COALESCE(signal_id, ''), phase, COALESCE(failure_reason, ''),
			COALESCE(outcome, ''), stake, winnings, profit, new_stake,
			COALESCE(target_multiplier, 0), COALESCE(final_multiplier, 0), COALESCE(interpretation, ''),
			balance_checked, balance_match, created_at
		FROM bot_rounds
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var stake, winnings, profit, newStake string
		var created time.Time
		if err := rows.Scan(&r.RoundID, &r.SessionID, &r.SignalID, &r.Phase, &r.FailureReason,
			&r.Outcome, &stake, &winnings, &profit, &newStake,
			&r.TargetMultiplier, &r.FinalMultiplier, &r.Interpretation,
			&r.BalanceChecked, &r.BalanceMatch, &created); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		r.CreatedAt = created
		if err := parseMoney(&r, stake, winnings, profit, newStake); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) InsertSignal(ctx context.Context, s SignalRow) error {
	reasons, err := json.Marshal(s.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	features, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	if _, err := l.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO bot_signals (signal_id, session_id, prediction, confidence, target_multiplier,
			strategy, source, accepted, reasons, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SignalID, s.SessionID, s.Prediction, s.Confidence, s.TargetMultiplier,
		s.Strategy, s.Source, s.Accepted, string(reasons), string(features), s.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to store signal: %w", err)
	}
	return nil
}

// CountSignals reports stored signals, accepted and total.
func (l *SQLiteLedger) CountSignals(ctx context.Context) (accepted, total int, err error) {
	err = l.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(accepted), 0), COUNT(*) FROM bot_signals`).Scan(&accepted, &total)
	return accepted, total, err
}

func (l *SQLiteLedger) InsertGameRound(ctx context.Context, g GameRoundRow) error {
	if _, err := l.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO observed_rounds (session_id, round, started_at, ended_at, max_multiplier, crash_multiplier, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.SessionID, g.Round, g.StartedAt.UTC(), g.EndedAt.UTC(), g.MaxMultiplier, g.CrashMultiplier, g.Reason); err != nil {
		return fmt.Errorf("failed to store observed round: %w", err)
	}
	return nil
}

// GameRounds returns observed rounds for a session, oldest first.
func (l *SQLiteLedger) GameRounds(ctx context.Context, sessionID string) ([]GameRoundRow, error) {
	rows, err := l.DB.QueryContext(ctx, `
		SELECT session_id, round, started_at, ended_at, max_multiplier, crash_multiplier, COALESCE(reason, '')
		FROM observed_rounds WHERE session_id = ? ORDER BY round`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observed rounds: %w", err)
	}
	defer rows.Close()
	var out []GameRoundRow
	for rows.Next() {
		var g GameRoundRow
		if err := rows.Scan(&g.SessionID, &g.Round, &g.StartedAt, &g.EndedAt,
			&g.MaxMultiplier, &g.CrashMultiplier, &g.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan observed round: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
