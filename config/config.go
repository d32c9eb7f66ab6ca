package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
	JSON       bool   `yaml:"json" json:"json"`
}

type SessionConfig struct {
	TargetMultiplier     float64  `yaml:"target_multiplier" json:"target_multiplier"`
	AggressiveMultiplier float64  `yaml:"aggressive_multiplier" json:"aggressive_multiplier"`
	DualPosition         bool     `yaml:"dual_position" json:"dual_position"`
	InitialStake         float64  `yaml:"initial_stake" json:"initial_stake"`
	MaxStake             float64  `yaml:"max_stake" json:"max_stake"`
	StakeIncreasePct     float64  `yaml:"stake_increase_pct" json:"stake_increase_pct"`
	MaxConsecutiveLosses int      `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	MinConfidence        float64  `yaml:"min_confidence" json:"min_confidence"`
	MinTarget            float64  `yaml:"min_target" json:"min_target"`
	MaxTarget            float64  `yaml:"max_target" json:"max_target"`
	AllowedStrategies    []string `yaml:"allowed_strategies" json:"allowed_strategies"`
	MaxActuationErrors   int      `yaml:"max_actuation_errors" json:"max_actuation_errors"`
	SignalSource         string   `yaml:"signal_source" json:"signal_source"` // cold_streak | redis
	Resume               bool     `yaml:"resume" json:"resume"`
}

type TrackerConfig struct {
	CrashThreshold       float64 `yaml:"crash_threshold" json:"crash_threshold"`
	HighThreshold        float64 `yaml:"high_threshold" json:"high_threshold"`
	PollIntervalMs       int     `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	SensorLossCrashAfter int     `yaml:"sensor_loss_crash_after" json:"sensor_loss_crash_after"`
	HistoryLimit         int     `yaml:"history_limit" json:"history_limit"`
}

type MonitorConfig struct {
	SamplingIntervalMs int     `yaml:"sampling_interval_ms" json:"sampling_interval_ms"`
	StartTimeoutMs     int     `yaml:"start_timeout_ms" json:"start_timeout_ms"`
	StartThreshold     float64 `yaml:"start_threshold" json:"start_threshold"`
	TargetTimeoutMs    int     `yaml:"target_timeout_ms" json:"target_timeout_ms"`
	CrashReading       float64 `yaml:"crash_reading" json:"crash_reading"`
}

type BetConfig struct {
	ClickSettleMs    int     `yaml:"click_settle_ms" json:"click_settle_ms"`
	VerifyRetries    int     `yaml:"verify_retries" json:"verify_retries"`
	RetryDelayMinMs  int     `yaml:"retry_delay_min_ms" json:"retry_delay_min_ms"`
	RetryDelayMaxMs  int     `yaml:"retry_delay_max_ms" json:"retry_delay_max_ms"`
	BalanceTolerance float64 `yaml:"balance_tolerance" json:"balance_tolerance"`
}

type CashoutConfig struct {
	PreTrackPauseMs int     `yaml:"pre_track_pause_ms" json:"pre_track_pause_ms"`
	TrackDurationMs int     `yaml:"track_duration_ms" json:"track_duration_ms"`
	TrackIntervalMs int     `yaml:"track_interval_ms" json:"track_interval_ms"`
	UnclearBelow    float64 `yaml:"unclear_below" json:"unclear_below"`
	ProbeRadius     int     `yaml:"probe_radius" json:"probe_radius"`
}

type ColorsConfig struct {
	Available     [3]int  `yaml:"available" json:"available"`
	InProgress    [3]int  `yaml:"in_progress" json:"in_progress"`
	Ended         [3]int  `yaml:"ended" json:"ended"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
	HueTolerance  float64 `yaml:"hue_tolerance" json:"hue_tolerance"`
	DarkValue     float64 `yaml:"dark_value" json:"dark_value"`
	MinSaturation float64 `yaml:"min_saturation" json:"min_saturation"`
}

type PointConfig struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

type PointsConfig struct {
	BetButton     PointConfig `yaml:"bet_button" json:"bet_button"`
	CashoutButton PointConfig `yaml:"cashout_button" json:"cashout_button"`
}

type ColdStreakConfig struct {
	Threshold      float64 `yaml:"threshold" json:"threshold"`
	Length         int     `yaml:"length" json:"length"`
	BaseConfidence float64 `yaml:"base_confidence" json:"base_confidence"`
	ConfidenceStep float64 `yaml:"confidence_step" json:"confidence_step"`
}

type PostgresConfig struct {
	URL string `yaml:"url" json:"url"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

type APIConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type FeedConfig struct {
	URL string `yaml:"url" json:"url"`
}

type SimConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	Seed            string  `yaml:"seed" json:"seed"`
	StartingBalance float64 `yaml:"starting_balance" json:"starting_balance"`
	Rounds          int     `yaml:"rounds" json:"rounds"`
}

// Config is the full bot configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Session    SessionConfig    `yaml:"session" json:"session"`
	Tracker    TrackerConfig    `yaml:"tracker" json:"tracker"`
	Monitor    MonitorConfig    `yaml:"monitor" json:"monitor"`
	Bet        BetConfig        `yaml:"bet" json:"bet"`
	Cashout    CashoutConfig    `yaml:"cashout" json:"cashout"`
	Colors     ColorsConfig     `yaml:"colors" json:"colors"`
	Points     PointsConfig     `yaml:"points" json:"points"`
	ColdStreak ColdStreakConfig `yaml:"cold_streak" json:"cold_streak"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	SQLite     SQLiteConfig     `yaml:"sqlite" json:"sqlite"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	API        APIConfig        `yaml:"api" json:"api"`
	Feed       FeedConfig       `yaml:"feed" json:"feed"`
	Sim        SimConfig        `yaml:"sim" json:"sim"`
	EventLog   string           `yaml:"event_log" json:"event_log"`
}

// Load reads path (YAML or JSON, optional), applies environment overrides
// and fills defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)

	c.Session.TargetMultiplier = parseFloatEnv("TARGET_MULTIPLIER", c.Session.TargetMultiplier)
	c.Session.InitialStake = parseFloatEnv("INITIAL_STAKE", c.Session.InitialStake)
	c.Session.MaxStake = parseFloatEnv("MAX_STAKE", c.Session.MaxStake)
	c.Session.StakeIncreasePct = parseFloatEnv("STAKE_INCREASE_PCT", c.Session.StakeIncreasePct)
	c.Session.MaxConsecutiveLosses = parseIntEnv("MAX_CONSECUTIVE_LOSSES", c.Session.MaxConsecutiveLosses)
	c.Session.MinConfidence = parseFloatEnv("MIN_CONFIDENCE", c.Session.MinConfidence)
	c.Session.DualPosition = parseBoolEnv("DUAL_POSITION", c.Session.DualPosition)
	c.Session.SignalSource = getEnv("SIGNAL_SOURCE", c.Session.SignalSource)

	c.Postgres.URL = getEnv("DATABASE_URL", c.Postgres.URL)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = parseIntEnv("REDIS_DB", c.Redis.DB)

	c.API.Addr = getEnv("API_ADDR", c.API.Addr)
	c.API.Enabled = parseBoolEnv("API_ENABLED", c.API.Enabled)
	c.Feed.URL = getEnv("FEED_URL", c.Feed.URL)
	c.Sim.Enabled = parseBoolEnv("SIM_ENABLED", c.Sim.Enabled)
	c.Sim.Seed = getEnv("SIM_SEED", c.Sim.Seed)
	c.EventLog = getEnv("EVENT_LOG", c.EventLog)
}

// ApplyDefaults fills every zero field with its package default.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}

	s := &c.Session
	setFloat(&s.TargetMultiplier, DefaultTargetMultiplier)
	setFloat(&s.AggressiveMultiplier, DefaultAggressiveMultiplier)
	setFloat(&s.InitialStake, DefaultInitialStake)
	setFloat(&s.MaxStake, DefaultMaxStake)
	setFloat(&s.StakeIncreasePct, DefaultStakeIncreasePct)
	setInt(&s.MaxConsecutiveLosses, DefaultMaxConsecutiveLosses)
	setFloat(&s.MinConfidence, DefaultMinConfidence)
	setFloat(&s.MinTarget, DefaultMinTarget)
	setFloat(&s.MaxTarget, DefaultMaxTarget)
	setInt(&s.MaxActuationErrors, MaxActuationErrors)
	if s.SignalSource == "" {
		s.SignalSource = "cold_streak"
	}

	t := &c.Tracker
	setFloat(&t.CrashThreshold, TrackerCrashThreshold)
	setFloat(&t.HighThreshold, TrackerHighThreshold)
	setInt(&t.PollIntervalMs, ms(TrackerPollInterval))
	setInt(&t.HistoryLimit, TrackerHistoryLimit)

	m := &c.Monitor
	setInt(&m.SamplingIntervalMs, ms(SamplingInterval))
	setInt(&m.StartTimeoutMs, ms(GameStartTimeout))
	setFloat(&m.StartThreshold, GameStartThreshold)
	setInt(&m.TargetTimeoutMs, ms(MonitorTargetTimeout))
	setFloat(&m.CrashReading, MonitorCrashReading)

	b := &c.Bet
	setInt(&b.ClickSettleMs, ms(BetClickSettle))
	setInt(&b.VerifyRetries, BetVerifyRetries)
	setInt(&b.RetryDelayMinMs, ms(BetRetryDelayMin))
	setInt(&b.RetryDelayMaxMs, ms(BetRetryDelayMax))
	setFloat(&b.BalanceTolerance, BetBalanceTolerance)

	co := &c.Cashout
	setInt(&co.PreTrackPauseMs, ms(CashoutPreTrackPause))
	setInt(&co.TrackDurationMs, ms(CashoutTrackDuration))
	setInt(&co.TrackIntervalMs, ms(CashoutTrackInterval))
	setFloat(&co.UnclearBelow, CashoutUnclearBelow)
	setInt(&co.ProbeRadius, CashoutProbeRadius)

	col := &c.Colors
	if col.Available == [3]int{} {
		col.Available = DefaultAvailableRGB
	}
	if col.InProgress == [3]int{} {
		col.InProgress = DefaultInProgressRGB
	}
	if col.Ended == [3]int{} {
		col.Ended = DefaultEndedRGB
	}
	setFloat(&col.Tolerance, ColorTolerance)
	setFloat(&col.HueTolerance, ColorHueTolerance)
	setFloat(&col.DarkValue, ColorDarkValue)
	setFloat(&col.MinSaturation, ColorMinSaturation)

	if c.Points.BetButton == (PointConfig{}) {
		c.Points.BetButton = DefaultBetButton
	}
	if c.Points.CashoutButton == (PointConfig{}) {
		c.Points.CashoutButton = DefaultCashoutButton
	}

	cs := &c.ColdStreak
	setFloat(&cs.Threshold, ColdStreakThreshold)
	setInt(&cs.Length, ColdStreakLength)
	setFloat(&cs.BaseConfidence, ColdStreakBaseConfidence)
	setFloat(&cs.ConfidenceStep, ColdStreakConfidenceStep)

	if c.API.Addr == "" {
		c.API.Addr = ServerAddr
	}
	setFloat(&c.Sim.StartingBalance, SimStartingBalance)
	setInt(&c.Sim.Rounds, SimRounds)
}

// Validate rejects configurations the control loop cannot run with.
func (c *Config) Validate() error {
	s := c.Session
	if s.InitialStake <= 0 {
		return fmt.Errorf("session.initial_stake must be > 0")
	}
	if s.MaxStake < s.InitialStake {
		return fmt.Errorf("session.max_stake (%.2f) must be >= initial_stake (%.2f)", s.MaxStake, s.InitialStake)
	}
	if s.StakeIncreasePct < 0 {
		return fmt.Errorf("session.stake_increase_pct must not be negative")
	}
	if s.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("session.max_consecutive_losses must be > 0")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("session.min_confidence must be within [0, 1]")
	}
	if s.MinTarget <= 1 || s.MaxTarget <= s.MinTarget {
		return fmt.Errorf("session target range [%.2f, %.2f] is invalid", s.MinTarget, s.MaxTarget)
	}
	if s.TargetMultiplier < s.MinTarget || s.TargetMultiplier > s.MaxTarget {
		return fmt.Errorf("session.target_multiplier %.2f outside [%.2f, %.2f]", s.TargetMultiplier, s.MinTarget, s.MaxTarget)
	}
	switch s.SignalSource {
	case "cold_streak", "redis":
	default:
		return fmt.Errorf("unknown session.signal_source %q", s.SignalSource)
	}
	if c.Tracker.CrashThreshold >= c.Monitor.StartThreshold {
		return fmt.Errorf("tracker.crash_threshold must be below monitor.start_threshold")
	}
	if c.Bet.VerifyRetries <= 0 {
		return fmt.Errorf("bet.verify_retries must be > 0")
	}
	if c.Bet.RetryDelayMaxMs < c.Bet.RetryDelayMinMs {
		return fmt.Errorf("bet.retry_delay_max_ms must be >= retry_delay_min_ms")
	}
	if c.Cashout.TrackIntervalMs <= 0 || c.Cashout.TrackDurationMs < c.Cashout.TrackIntervalMs {
		return fmt.Errorf("cashout tracking window is invalid")
	}
	for name, rgb := range map[string][3]int{
		"available":   c.Colors.Available,
		"in_progress": c.Colors.InProgress,
		"ended":       c.Colors.Ended,
	} {
		for _, v := range rgb {
			if v < 0 || v > 255 {
				return fmt.Errorf("colors.%s channel %d out of range", name, v)
			}
		}
	}
	if c.Points.BetButton == c.Points.CashoutButton {
		return fmt.Errorf("points.bet_button and points.cashout_button must differ")
	}
	if !c.Sim.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("either sim.enabled or feed.url must be set")
	}
	return nil
}

// Duration converts a millisecond config value.
func Duration(msValue int) time.Duration {
	return time.Duration(msValue) * time.Millisecond
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func setFloat(dst *float64, def float64) {
	if *dst == 0 {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
