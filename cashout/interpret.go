package cashout

import (
	"crashpilot/config"
)

type Interpretation string

const (
	CashoutSuccess         Interpretation = "CASHOUT_SUCCESS"
	RoundEndedBetAgain     Interpretation = "ROUND_ENDED_BET_AGAIN"
	CashoutHeldGreen       Interpretation = "CASHOUT_HELD_GREEN"
	RoundEndedBetAvailable Interpretation = "ROUND_ENDED_BET_AVAILABLE"
	RoundEndedNoBet        Interpretation = "ROUND_ENDED_NO_BET"
	WaitingNextRound       Interpretation = "WAITING_NEXT_ROUND"
	ButtonUnclear          Interpretation = "BUTTON_UNCLEAR"
	Uncertain              Interpretation = "UNCERTAIN"
)

// IsSuccess reports whether the exit is considered done.
func (i Interpretation) IsSuccess() bool {
	switch i {
	case CashoutSuccess, RoundEndedBetAgain, CashoutHeldGreen:
		return true
	}
	return false
}

// EndedBeforeExit reports interpretations that mean the round was over
// before the exit could land.
func (i Interpretation) EndedBeforeExit() bool {
	switch i {
	case RoundEndedBetAvailable, RoundEndedNoBet, WaitingNextRound:
		return true
	}
	return false
}

type observed struct {
	labels    []string
	available bool
	running   bool
	ended     bool
	unclear   bool
}

func observe(seq []string) observed {
	o := observed{labels: seq}
	for _, l := range seq {
		switch l {
		case config.LabelAvailable:
			o.available = true
		case config.LabelInProgress:
			o.running = true
		case config.LabelEnded:
			o.ended = true
		case config.LabelUnclear:
			o.unclear = true
		}
	}
	return o
}

func (o observed) all(label string, skipEmpty bool) bool {
	n := 0
	for _, l := range o.labels {
		if l == "" && skipEmpty {
			continue
		}
		if l != label {
			return false
		}
		n++
	}
	return n > 0
}

type rule struct {
	match  func(observed) bool
	result Interpretation
}

// Evaluated top to bottom. Later rules are narrower exceptions to earlier
// ones; the order must not change.
var rules = []rule{
	{func(o observed) bool { return o.available && o.running && !o.ended }, CashoutSuccess},
	{func(o observed) bool { return o.available && o.ended && !o.running }, RoundEndedBetAgain},
	{func(o observed) bool { return o.all(config.LabelAvailable, true) }, CashoutHeldGreen},
	{func(o observed) bool { return o.running && o.ended && !o.available }, RoundEndedBetAvailable},
	{func(o observed) bool { return o.all(config.LabelInProgress, false) }, RoundEndedNoBet},
	{func(o observed) bool { return o.all(config.LabelEnded, false) }, WaitingNextRound},
	{func(o observed) bool { return o.unclear && !o.running && !o.ended }, ButtonUnclear},
}

// InterpretOutcome classifies a tracked label sequence.
func InterpretOutcome(seq []string) Interpretation {
	o := observe(seq)
	for _, r := range rules {
		if r.match(o) {
			return r.result
		}
	}
	return Uncertain
}
