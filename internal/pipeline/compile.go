package pipeline

import (
	"context"
	"fmt"
	"os"

	"slipway/internal/workspace"
)

// In-container paths of the compile step. The build command unpacks the
// source archive, compiles it with the shared cache, and packs the result
// into the artifact path.
const (
	sourceMountPath   = "/tmp/src.tar.gz"
	artifactMountPath = "/tmp/artifact.tar.gz"
	cacheMountPath    = "/cache"
	buildCommand      = "/usr/local/bin/build"
)

// Compile runs the compile step in an ephemeral container and returns its
// exit code. Container stdout goes to the build log, stderr to the error
// log; both files are opened before the container starts and stay open
// for its entire lifetime.
func (p *Pipeline) Compile(ctx context.Context, b *workspace.Build) (int, error) {
	out, err := os.OpenFile(b.LogPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open build log: %w", err)
	}
	defer out.Close()

	errLog, err := os.OpenFile(b.ErrorLogPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open error log: %w", err)
	}
	defer errLog.Close()

	cfg := RunConfig{
		Image:      p.cfg.BuildImage,
		Cmd:        []string{buildCommand},
		AutoRemove: true,
		Mounts: []Mount{
			{Source: p.ws.SourcePath(b.App, b.Revision), Target: sourceMountPath, ReadOnly: true},
			{Source: b.ArtifactPath(), Target: artifactMountPath},
			{Source: p.ws.CachePath(b.App), Target: cacheMountPath},
		},
	}

	code, err := p.rt.ContainerRun(ctx, cfg, out, errLog)
	if err != nil {
		return 0, fmt.Errorf("run compile container: %w", err)
	}
	return code, nil
}
