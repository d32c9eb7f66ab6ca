package tracker

import (
	"time"
)

type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusCrashed Status = "CRASHED"
)

type EventKind string

const (
	KindGameStart          EventKind = "GameStart"
	KindMultiplierIncrease EventKind = "MultiplierIncrease"
	KindHighMultiplier     EventKind = "HighMultiplier"
	KindCrash              EventKind = "Crash"
	KindSensorLost         EventKind = "SensorLost"
)

// GameEvent is immutable once returned by Update.
type GameEvent struct {
	Kind       EventKind      `json:"kind"`
	Time       time.Time      `json:"time"`
	Multiplier float64        `json:"multiplier"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
}

// GameState is a snapshot of the tracker's view of the table.
type GameState struct {
	Status            Status    `json:"status"`
	CurrentMultiplier float64   `json:"currentMultiplier"`
	HasMultiplier     bool      `json:"hasMultiplier"`
	Running           bool      `json:"running"`
	MaxMultiplier     float64   `json:"maxMultiplier"`
	Crashed           bool      `json:"crashed"`
	RoundStart        time.Time `json:"roundStart"`
}

// RoundSummary is appended once per crash and never changed afterwards.
type RoundSummary struct {
	Round           int           `json:"round"`
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
	Duration        time.Duration `json:"duration"`
	MaxMultiplier   float64       `json:"maxMultiplier"`
	CrashMultiplier float64       `json:"crashMultiplier"`
	Status          Status        `json:"status"`
	EventCount      int           `json:"eventCount"`
	Reason          string        `json:"reason"`
}
