package game

import (
	"crashpilot/crypto"
)

// VerifyRound checks a revealed seed against its commitment and that it
// reproduces the recorded crash point.
func VerifyRound(serverSeed, seedHash, roundID string, crashPoint float64) bool {
	if !crypto.VerifySeed(serverSeed, seedHash) {
		return false
	}
	return GenerateCrashPoint(serverSeed, roundID) == crashPoint
}
