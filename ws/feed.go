package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"crashpilot/clock"
	"crashpilot/config"
	"crashpilot/sensor"
)

/* =========================
   WIRE FORMAT
========================= */

// Message types on ChannelCrash.
const (
	TypeGameStart   = "game_start"
	TypePriceUpdate = "price_update"
	TypeGameEnd     = "game_end"
)

type GameStartData struct {
	GameID         string  `json:"gameId"`
	ServerSeedHash string  `json:"serverSeedHash,omitempty"`
	StartingPrice  float64 `json:"startingPrice"`
}

type PriceUpdateData struct {
	Tick       int     `json:"tick"`
	Price      float64 `json:"price"`
	Multiplier float64 `json:"multiplier"`
	GameEnded  bool    `json:"gameEnded"`
}

type GameEndData struct {
	GameID         string  `json:"gameId"`
	ServerSeedHash string  `json:"serverSeedHash,omitempty"`
	PeakMultiplier float64 `json:"peakMultiplier"`
	Rugged         bool    `json:"rugged"`
	TotalTicks     int     `json:"totalTicks"`
}

/* =========================
   PUBLISHER
========================= */

// Publisher is where crash feed messages go; *Hub implements it.
type Publisher interface {
	Publish(channel string, msg any)
}

// CrashFeed watches a multiplier sensor and republishes it as the crash
// feed: game_start when betting opens, price_update while running and
// game_end at the crash.
type CrashFeed struct {
	Sensor   sensor.MultiplierSensor
	Out      Publisher
	Clock    clock.Clock
	Interval time.Duration
	SeedHash string

	game    int
	phase   string
	tick    int
	peak    float64
	gameID  string
	lastPub float64
}

func NewCrashFeed(s sensor.MultiplierSensor, out Publisher, c clock.Clock) *CrashFeed {
	if c == nil {
		c = clock.Real{}
	}
	return &CrashFeed{Sensor: s, Out: out, Clock: c, Interval: config.FeedPublishEvery}
}

func (f *CrashFeed) Run(ctx context.Context) error {
	logrus.WithField("component", "crash-feed").Info("📡 crash feed publishing")
	for {
		f.Step(ctx)
		if err := f.Clock.Sleep(ctx, f.Interval); err != nil {
			return err
		}
	}
}

// Step reads once and publishes whatever changed.
func (f *CrashFeed) Step(ctx context.Context) {
	r := f.Sensor.ReadWithStatus(ctx)
	if !r.Valid {
		return
	}
	switch r.Status {
	case sensor.StatusWaiting:
		if f.phase != sensor.StatusWaiting {
			f.game++
			f.gameID = fmt.Sprintf("%d", f.game)
			f.phase = sensor.StatusWaiting
			f.tick, f.peak, f.lastPub = 0, 1.0, 0
			f.Out.Publish(ChannelCrash, Message{Type: TypeGameStart, Data: GameStartData{
				GameID:         f.gameID,
				ServerSeedHash: f.SeedHash,
				StartingPrice:  1.0,
			}})
		}
	case sensor.StatusStarting, sensor.StatusRunning, sensor.StatusHigh:
		f.phase = sensor.StatusRunning
		if r.Multiplier == f.lastPub {
			return
		}
		f.lastPub = r.Multiplier
		if r.Multiplier > f.peak {
			f.peak = r.Multiplier
		}
		f.Out.Publish(ChannelCrash, Message{Type: TypePriceUpdate, Data: PriceUpdateData{
			Tick:       f.tick,
			Price:      r.Multiplier,
			Multiplier: r.Multiplier,
		}})
		f.tick++
	case sensor.StatusCrashed:
		if f.phase != sensor.StatusRunning {
			return
		}
		f.phase = sensor.StatusCrashed
		f.Out.Publish(ChannelCrash, Message{Type: TypeGameEnd, Data: GameEndData{
			GameID:         f.gameID,
			ServerSeedHash: f.SeedHash,
			PeakMultiplier: f.peak,
			Rugged:         true,
			TotalTicks:     f.tick,
		}})
	}
}

/* =========================
   FEED SENSOR
========================= */

// FeedSensor is a MultiplierSensor fed by a remote crash feed. It keeps
// the last state and reports UNKNOWN when a running round goes quiet.
type FeedSensor struct {
	URL            string
	Clock          clock.Clock
	ReconnectDelay time.Duration
	StaleAfter     time.Duration
	HighThreshold  float64

	mu        sync.RWMutex
	reading   sensor.Reading
	lastMsg   time.Time
	connected bool

	log *logrus.Entry
}

func NewFeedSensor(url string, c clock.Clock) *FeedSensor {
	if c == nil {
		c = clock.Real{}
	}
	return &FeedSensor{
		URL:            url,
		Clock:          c,
		ReconnectDelay: config.FeedReconnectDelay,
		StaleAfter:     config.FeedStaleAfter,
		HighThreshold:  config.TrackerHighThreshold,
		reading:        sensor.Reading{Status: sensor.StatusUnknown, Message: "not connected"},
		log:            logrus.WithField("component", "feed"),
	}
}

// Run keeps a connection to the feed open, reconnecting after
// ReconnectDelay, until ctx is done.
func (f *FeedSensor) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		f.setConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warnf("⚠️  feed disconnected: %v (retrying in %s)", err, f.ReconnectDelay)
		if err := f.Clock.Sleep(ctx, f.ReconnectDelay); err != nil {
			return err
		}
	}
}

func (f *FeedSensor) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()

	sub := ClientMessage{Type: "subscribe", Data: map[string]any{"channel": ChannelCrash}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	f.setConnected(true)
	f.log.Infof("🔌 feed connected: %s", f.URL)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := f.handle(raw); err != nil {
			f.log.Debugf("feed message skipped: %v", err)
		}
	}
}

func (f *FeedSensor) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *FeedSensor) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var errUnknownMessage = errors.New("unknown message type")

// handle applies one feed message to the current reading.
func (f *FeedSensor) handle(raw []byte) error {
	var msg rawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to parse feed message: %w", err)
	}

	var next sensor.Reading
	switch msg.Type {
	case TypeGameStart, "countdown":
		next = sensor.Reading{Multiplier: 1.0, Valid: true, Status: sensor.StatusWaiting}
	case TypePriceUpdate:
		var d PriceUpdateData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("failed to parse price_update: %w", err)
		}
		m := d.Multiplier
		if m == 0 {
			m = d.Price
		}
		status := sensor.StatusRunning
		switch {
		case m <= 1.0:
			status = sensor.StatusStarting
		case m >= f.HighThreshold:
			status = sensor.StatusHigh
		}
		next = sensor.Reading{Multiplier: m, Valid: true, Status: status}
	case TypeGameEnd:
		var d GameEndData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("failed to parse game_end: %w", err)
		}
		next = sensor.Reading{
			Valid:   true,
			Status:  sensor.StatusCrashed,
			Message: fmt.Sprintf("crashed @ %.2fx", d.PeakMultiplier),
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}

	f.mu.Lock()
	f.reading = next
	f.lastMsg = f.Clock.Now()
	f.mu.Unlock()
	return nil
}

func (f *FeedSensor) ReadWithStatus(ctx context.Context) sensor.Reading {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r := f.reading
	running := r.Status == sensor.StatusStarting || r.Status == sensor.StatusRunning || r.Status == sensor.StatusHigh
	if running && f.StaleAfter > 0 && f.Clock.Now().Sub(f.lastMsg) > f.StaleAfter {
		return sensor.Reading{Status: sensor.StatusUnknown, Message: "feed stale"}
	}
	return r
}

func (f *FeedSensor) Read(ctx context.Context) (float64, bool) {
	r := f.ReadWithStatus(ctx)
	return r.Multiplier, r.Valid
}
