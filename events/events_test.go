package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchesInOrderAndSurvivesPanics(t *testing.T) {
	rec := &Recorder{}
	bus := NewBus(SubscriberFunc(func(Event) { panic("boom") }), rec)

	bus.Emit(Event{Type: GameStart, Source: "tracker"})
	bus.Emit(Event{Type: Crash, Source: "tracker"})

	assert.Equal(t, []Type{GameStart, Crash}, rec.Types())
	assert.False(t, rec.Events()[0].Time.IsZero())
	assert.Equal(t, 1, rec.Count(Crash))
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Subscribe(&Recorder{})
	bus.Emit(Event{Type: Crash})
	Emitter{Bus: bus, Source: "x"}.Emit(Crash, time.Now(), nil)
}

func TestJSONLSubscriberFiltersAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "bot.jsonl")
	sub := NewJSONL(path)
	sub.Types = map[Type]bool{RoundOutcome: true}

	bus := NewBus(sub)
	bus.Emit(Event{Type: MultiplierIncrease, Source: "tracker"})
	bus.Emit(Event{Type: RoundOutcome, Source: "outcome", Fields: map[string]any{"outcome": "WIN"}})
	require.NoError(t, sub.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 1)
	assert.Equal(t, RoundOutcome, lines[0].Type)
	assert.Equal(t, "WIN", lines[0].Fields["outcome"])
}

func TestNewJSONLBlankPath(t *testing.T) {
	assert.Nil(t, NewJSONL("  "))
	var s *JSONLSubscriber
	s.Handle(Event{Type: Crash})
	assert.NoError(t, s.Close())
}
