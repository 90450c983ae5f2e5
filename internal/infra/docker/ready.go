package docker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/docker/docker/client"
)

// CheckSocket verifies that the Docker control endpoint exists and is a
// unix socket. A non-socket at the expected path is a fatal startup
// condition.
func CheckSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat docker socket %s: %w", path, err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists but is not a socket", path)
	}
	return nil
}

// WaitReady pings the Docker daemon until it responds or ctx is done.
func WaitReady(ctx context.Context, cli *client.Client) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		_, err := cli.Ping(ctx)
		if err == nil {
			return nil
		}
		if !client.IsErrConnectionFailed(err) {
			return fmt.Errorf("connect to docker daemon: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
