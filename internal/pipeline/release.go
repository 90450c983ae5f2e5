package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"slipway/internal/workspace"
)

const (
	// releasePort is the fixed port runtime images must bind.
	releasePort      = 8080
	releasePortProto = "tcp"
)

// ErrPortNotBound reports that the expected port was absent from the
// release container's network settings after start — the runtime image
// failed to bind.
var ErrPortNotBound = errors.New("release container did not bind expected port")

// Deploy starts a long-lived release container serving the build's
// artifact, tagged with routing labels for the reverse proxy, and
// confirms the expected port is bound. It returns the container id.
func (p *Pipeline) Deploy(ctx context.Context, b *workspace.Build) (string, error) {
	if err := p.appendLaunchMarker(b); err != nil {
		return "", err
	}

	cfg := CreateConfig{
		Name:        ContainerName(b.App),
		Image:       p.cfg.RuntimeImage,
		Env:         []string{fmt.Sprintf("PORT=%d", releasePort)},
		Labels:      RouteLabels(b.App, p.cfg.Domain, p.cfg.Network),
		Ports:       []Port{{Number: releasePort, Protocol: releasePortProto}},
		NetworkMode: p.cfg.Network,
		Mounts: []Mount{
			{Source: b.ArtifactPath(), Target: artifactMountPath, ReadOnly: true},
		},
		AutoRemove: true,
	}

	id, err := p.rt.ContainerCreate(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("create release container: %w", err)
	}
	if err := p.rt.ContainerStart(ctx, id); err != nil {
		return "", fmt.Errorf("start release container: %w", err)
	}

	info, err := p.rt.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspect release container: %w", err)
	}
	want := fmt.Sprintf("%d/%s", releasePort, releasePortProto)
	if !slices.Contains(info.Ports, want) {
		return "", fmt.Errorf("%w: want %s, have %v", ErrPortNotBound, want, info.Ports)
	}
	return id, nil
}

// appendLaunchMarker re-opens the build log (the compile step's handle is
// closed by now) and appends a launching line.
func (p *Pipeline) appendLaunchMarker(b *workspace.Build) error {
	f, err := os.OpenFile(b.LogPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open build log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "launching %s (build %s)\n", b.App, b.ID); err != nil {
		return fmt.Errorf("append launch marker: %w", err)
	}
	return nil
}
