package config

import (
	"time"
)

/* =========================
   GAME TRACKER
========================= */

const (
	TrackerCrashThreshold = 0.5  // reading at or below this while running = crash
	TrackerHighThreshold  = 10.0 // HighMultiplier fires once per round at this level
	TrackerPollInterval   = 200 * time.Millisecond
	TrackerHistoryLimit   = 500
)

/* =========================
   GAME MONITOR
========================= */

const (
	SamplingInterval     = 30 * time.Millisecond
	GameStartTimeout     = 15 * time.Second
	GameStartThreshold   = 1.05 // first reading above this means the round is live
	MonitorTargetTimeout = 60 * time.Second
	MonitorCrashReading  = 0.99 // reading below this while chasing a target = crash
)

/* =========================
   ENTRY (BET PLACEMENT)
========================= */

const (
	BetClickSettle      = 400 * time.Millisecond
	BetVerifyRetries    = 3
	BetRetryDelayMin    = 200 * time.Millisecond
	BetRetryDelayMax    = 300 * time.Millisecond
	BetBalanceTolerance = 0.01 // fraction of the stake the OCR balance check forgives
)

/* =========================
   EXIT (CASHOUT)
========================= */

const (
	CashoutPreTrackPause = 500 * time.Millisecond
	CashoutTrackDuration = 4 * time.Second
	CashoutTrackInterval = 200 * time.Millisecond
	CashoutUnclearBelow  = 0.5 // confidence at or below this is labelled UNCLEAR
	CashoutProbeRadius   = 3   // 7x7 neighbourhood
)

/* =========================
   COLOR MATCHING
========================= */

const (
	ColorTolerance     = 60.0 // euclidean RGB distance counted as an exact match
	ColorHueTolerance  = 20.0 // degrees
	ColorDarkValue     = 0.40 // HSV value below which RGB distance is unreliable
	ColorMinSaturation = 0.25 // below this a sample has no usable hue
	LabelAvailable     = "GREEN"
	LabelInProgress    = "BLUE"
	LabelEnded         = "ORANGE"
	LabelUnclear       = "UNCLEAR"
)

// Default palette for the probed button states.
var (
	DefaultAvailableRGB  = [3]int{46, 204, 64}
	DefaultInProgressRGB = [3]int{30, 110, 230}
	DefaultEndedRGB      = [3]int{245, 140, 30}
)

/* =========================
   SESSION / STAKING
========================= */

const (
	DefaultTargetMultiplier     = 1.3
	DefaultAggressiveMultiplier = 2.0
	DefaultInitialStake         = 10.0
	DefaultMaxStake             = 100.0
	DefaultStakeIncreasePct     = 20.0
	DefaultMaxConsecutiveLosses = 5
	DefaultMinConfidence        = 0.6
	DefaultMinTarget            = 1.01
	DefaultMaxTarget            = 100.0
	MaxActuationErrors          = 5
	RoundHistoryLimit           = 1000
	BetWindowPoll               = 100 * time.Millisecond
	BetWindowTimeout            = 10 * time.Second       // wait for the betting window before pre-bet checks
	NoSignalWait                = 500 * time.Millisecond // idle between empty signal polls
)

/* =========================
   COLD STREAK SIGNALS
========================= */

const (
	ColdStreakThreshold      = 2.0 // rounds crashing below this count as cold
	ColdStreakLength         = 3
	ColdStreakBaseConfidence = 0.6
	ColdStreakConfidenceStep = 0.05
)

/* =========================
   PERSISTENCE
========================= */

const (
	LedgerWriteTimeout = 10 * time.Second

	// Postgres pool
	PostgresMaxConns        = 10
	PostgresMinConns        = 1
	PostgresMaxConnLifetime = 5 * time.Minute

	// Redis keys
	RedisSessionKey       = "crashpilot:session:%s"     // crashpilot:session:{sessionId}
	RedisLatestSessionKey = "crashpilot:session:latest" // id of the last saved session
	RedisStatsKey         = "crashpilot:stats:%s"       // crashpilot:stats:{sessionId}
	RedisSignalKey        = "crashpilot:signals"        // LIST, external model LPUSHes JSON
	RedisSessionTTL       = 24 * time.Hour
)

/* =========================
   API / WEBSOCKET
========================= */

const (
	ServerAddr = "0.0.0.0:8080"

	WSWriteDeadline   = 10 * time.Second
	WSPingInterval    = 30 * time.Second
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSSendBuffer      = 256
	WSBroadcastBuffer = 100
	WSHistoryLimit    = 100 // events replayed to a new subscriber

	FeedReconnectDelay = 2 * time.Second
	FeedStaleAfter     = 2 * time.Second
	FeedPublishEvery   = 100 * time.Millisecond
)

/* =========================
   SIMULATION
========================= */

const (
	SimWaitingDuration = 5 * time.Second
	SimCrashedDuration = 3 * time.Second
	SimGrowthRate      = 0.06 // multiplier = e^(rate * seconds)
	SimCashoutFlash    = 1 * time.Second
	SimStartingBalance = 1000.0
	SimRounds          = 100
)

// Default button positions, matching the simulated table layout.
var (
	DefaultBetButton     = PointConfig{X: 100, Y: 500}
	DefaultCashoutButton = PointConfig{X: 300, Y: 500}
)
