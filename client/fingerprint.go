package client

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
)

// Fingerprint derives a stable device identifier from coarse host facts.
// It is an anti-replay hint for refresh rotation, not a tracking id, so it
// deliberately avoids anything finer than hostname and platform.
func Fingerprint() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	sum := sha256.Sum256([]byte(host + "|" + runtime.GOOS + "|" + runtime.GOARCH))
	return hex.EncodeToString(sum[:])[:16]
}
