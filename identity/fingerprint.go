package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/layer-3/walletauth/core"
)

// Fingerprint hashes the coarse device attributes into a stable hex digest.
// Equal attributes always give equal fingerprints; different users may share
// one, so a fingerprint is a bucketing signal and never proof of identity.
func Fingerprint(d core.DeviceInfo) string {
	// Map keys marshal sorted, which fixes the serialization
	attrs := map[string]string{
		"user_agent":        d.UserAgent,
		"screen_resolution": d.ScreenResolution,
		"timezone":          d.Timezone,
		"language":          d.Language,
		"ip_address":        d.IPAddress,
	}
	b, _ := json.Marshal(attrs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
