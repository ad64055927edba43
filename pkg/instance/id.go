// Package instance identifies the machine this process runs on.
package instance

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/denisbrodbeck/machineid"
)

// ID returns a stable, hashed identifier for the host machine. The raw
// machine id never leaves the process.
func ID() (string, error) {
	raw, err := machineid.ID()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8]), nil
}
