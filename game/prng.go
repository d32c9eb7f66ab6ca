package game

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"strings"
)

// NewSeededRNG derives a deterministic generator from the joined parts,
// so the same seed and round id always replay the same round.
func NewSeededRNG(parts ...string) *rand.Rand {
	hash := sha256.Sum256([]byte(strings.Join(parts, "-")))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(hash[:8]))))
}
