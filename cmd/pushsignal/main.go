// Command pushsignal enqueues betting signals for a bot running with
// session.signal_source=redis, then lists what is waiting.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"crashpilot/config"
	"crashpilot/db"
	"crashpilot/signal"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env not found")
	}

	target := flag.Float64("target", config.DefaultTargetMultiplier, "target multiplier")
	confidence := flag.Float64("confidence", 0.8, "signal confidence in [0, 1]")
	strategy := flag.String("strategy", "manual", "strategy label")
	count := flag.Int("n", 1, "number of signals to push")
	flag.Parse()

	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		log.Fatal("REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := db.NewRedisClient(ctx, config.RedisConfig{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	if err != nil {
		log.Fatalf("Failed to init redis: %v", err)
	}
	defer client.Close()

	src := signal.NewRedisSource(client, time.Second)
	fmt.Println("Pushing signals...")

	for i := 0; i < *count; i++ {
		sig := signal.Signal{
			ID:               uuid.NewString(),
			Prediction:       signal.PredictionBet,
			Confidence:       *confidence,
			TargetMultiplier: *target,
			Strategy:         *strategy,
			Source:           "pushsignal",
			CreatedAt:        time.Now().UTC(),
		}
		if err := src.Push(ctx, sig); err != nil {
			log.Printf("Failed to push %s: %v", sig.ID[:8], err)
		} else {
			fmt.Printf("  %s... -> %.2fx @ %.2f\n", sig.ID[:8], sig.TargetMultiplier, sig.Confidence)
		}
	}

	// Verify
	queued, err := client.LRange(ctx, config.RedisSignalKey, 0, -1).Result()
	if err != nil {
		log.Fatalf("Failed to read queue: %v", err)
	}
	fmt.Printf("\nQueue %s (%d entries):\n", config.RedisSignalKey, len(queued))
	for i, raw := range queued {
		var s signal.Signal
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			fmt.Printf("  #%d <unreadable>\n", i+1)
			continue
		}
		fmt.Printf("  #%d %s... %.2fx %s\n", i+1, s.ID[:min(8, len(s.ID))], s.TargetMultiplier, s.Strategy)
	}
}
