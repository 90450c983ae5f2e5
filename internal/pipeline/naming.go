package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	containerNameRandomBytes = 2
	containerNameMaxLen      = 255
)

// ContainerName generates a release container name with a random suffix.
// Format: slipway-{app}-{4-char-random}
func ContainerName(app string) string {
	suffix := randomContainerSuffix()
	app = truncateApp(app, suffix)
	return fmt.Sprintf("slipway-%s-%s", app, suffix)
}

func randomContainerSuffix() string {
	b := make([]byte, containerNameRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%0*x", containerNameRandomBytes*2, 0)
	}
	return hex.EncodeToString(b)
}

func truncateApp(app, suffix string) string {
	const fixedLen = len("slipway--")
	maxAppLen := containerNameMaxLen - fixedLen - len(suffix)
	if maxAppLen <= 0 {
		return ""
	}
	if len(app) > maxAppLen {
		return app[:maxAppLen]
	}
	return app
}
