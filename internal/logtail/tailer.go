// Package logtail serves build logs as live, append-only streams.
package logtail

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"slipway/internal/workspace"
)

const (
	// DefaultTick is the follow-mode poll interval.
	DefaultTick = time.Second
	// DefaultIdle ends a follow once no new bytes arrived for this long
	// without a completion marker appearing.
	DefaultIdle = 10 * time.Second
)

// Tailer streams a build's primary log file. The zero value uses the
// default tick and idle timeout.
type Tailer struct {
	Tick time.Duration
	Idle time.Duration
}

// Stream copies the build log to w.
//
// If the completion marker already exists, the whole log file is written
// in one shot. Otherwise the tailer follows the file: newly appended
// bytes are forwarded on every tick, and the stream ends when either no
// new bytes have arrived for the idle timeout or the marker appears,
// whichever is first. Cancelling ctx (caller disconnect) tears the
// follow down immediately.
func (t *Tailer) Stream(ctx context.Context, b *workspace.Build, w io.Writer) error {
	f, err := os.Open(b.LogPath())
	if err != nil {
		return fmt.Errorf("open build log: %w", err)
	}
	defer f.Close()

	if b.Finished() {
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("write build log: %w", err)
		}
		return nil
	}

	tick := t.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	idle := t.Idle
	if idle <= 0 {
		idle = DefaultIdle
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastByte := time.Now()
	for {
		n, err := io.Copy(w, f)
		if err != nil {
			return fmt.Errorf("forward build log: %w", err)
		}
		if n > 0 {
			lastByte = time.Now()
			flush(w)
		}

		if b.Finished() {
			// Drain anything written between the copy and the marker.
			if _, err := io.Copy(w, f); err != nil {
				return fmt.Errorf("forward build log: %w", err)
			}
			flush(w)
			return nil
		}
		if time.Since(lastByte) >= idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flusher is implemented by writers that can push buffered bytes to the
// client immediately (e.g. http.ResponseWriter).
type Flusher interface {
	Flush()
}

func flush(w io.Writer) {
	if f, ok := w.(Flusher); ok {
		f.Flush()
	}
}
