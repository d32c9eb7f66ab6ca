package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Seed is a server seed and its published sha256 commitment.
type Seed struct {
	Value string `json:"-"`
	Hash  string `json:"hash"`
}

// NewServerSeed draws 32 random bytes.
func NewServerSeed() (Seed, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return Seed{}, fmt.Errorf("failed to generate server seed: %w", err)
	}
	return SeedFrom(hex.EncodeToString(bytes)), nil
}

// SeedFrom wraps a fixed seed, e.g. one from config for a replayable
// simulation.
func SeedFrom(value string) Seed {
	return Seed{Value: value, Hash: HashSeed(value)}
}

func HashSeed(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// VerifySeed checks a revealed seed against its commitment.
func VerifySeed(value, hash string) bool {
	return HashSeed(value) == hash
}
