// Package pipeline drives the build-and-release chain for one
// application revision: compile container, artifact, release container,
// retirement of prior releases.
package pipeline

import (
	"context"
	"log/slog"

	"slipway/internal/workspace"

	"github.com/google/uuid"
)

// Status is a build's lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusCompiling Status = "compiling"
	StatusCompiled  Status = "compiled"
	StatusDeploying Status = "deploying"
	StatusReleased  Status = "released"
	StatusFailed    Status = "failed"
)

// Config holds the fixed parameters of the pipeline.
type Config struct {
	// BuildImage is the compile container image; RuntimeImage runs the
	// packaged artifact.
	BuildImage   string
	RuntimeImage string
	// Network is the Docker network release containers join.
	Network string
	// Domain is the platform domain used in routing rules.
	Domain string
}

// Recorder persists build history. All pipeline writes to it are
// best-effort: a recorder failure is logged and never aborts a build.
// Production: history.Store
// Testing: in-memory fake
type Recorder interface {
	SetStatus(ctx context.Context, app string, build uuid.UUID, status Status) error
	SetExitCode(ctx context.Context, app string, build uuid.UUID, code int) error
	SetReleaseContainer(ctx context.Context, app string, build uuid.UUID, containerID string) error
}

// Pipeline executes builds against a container runtime. Distinct builds
// run concurrently with no mutual exclusion; within one build the stages
// are strictly ordered.
type Pipeline struct {
	rt      ContainerRuntime
	ws      *workspace.Manager
	cfg     Config
	history Recorder // optional
	clock   Clock
}

func New(rt ContainerRuntime, ws *workspace.Manager, cfg Config, history Recorder, clock Clock) *Pipeline {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pipeline{rt: rt, ws: ws, cfg: cfg, history: history, clock: clock}
}

// Run executes the full pipeline for an allocated build: compile, deploy,
// retire prior releases, completion marker. It never returns an error;
// failures are logged and reflected in the build history. A failure in
// one build must never affect other concurrent builds.
//
// The completion marker is written once the chain has run through the
// release-swap step (or skipped past it on a failed compile or deploy).
// A container-runtime error during compile aborts the remainder of the
// pipeline without a marker; callers observe a stalled log instead.
func (p *Pipeline) Run(ctx context.Context, b *workspace.Build) {
	log := slog.With("app", b.App, "build", b.ID.String(), "revision", b.Revision)

	p.setStatus(ctx, b, StatusCompiling)
	log.Info("Compiling revision.")
	code, err := p.Compile(ctx, b)
	if err != nil {
		log.Error("Compile stage failed.", "err", err)
		p.setStatus(ctx, b, StatusFailed)
		return
	}
	p.recordExitCode(ctx, b, code)
	p.setStatus(ctx, b, StatusCompiled)

	if code != 0 {
		log.Error("Compile exited non-zero, skipping deploy.", "exit_code", code)
		p.setStatus(ctx, b, StatusFailed)
		p.finish(b, log)
		return
	}

	p.setStatus(ctx, b, StatusDeploying)
	log.Info("Deploying artifact.")
	releaseID, err := p.Deploy(ctx, b)
	if err != nil {
		// Never retire a working old release in favor of an unconfirmed
		// new one: the swap step is skipped entirely.
		log.Error("Deploy stage failed, skipping release swap.", "err", err)
		p.setStatus(ctx, b, StatusFailed)
		p.finish(b, log)
		return
	}
	p.recordReleaseContainer(ctx, b, releaseID)

	for _, outcome := range p.RetireOld(ctx, b.App, releaseID) {
		if outcome.Err != nil {
			log.Warn("Failed to stop prior release container.", "container", outcome.ID, "err", outcome.Err)
			continue
		}
		log.Info("Retired prior release container.", "container", outcome.ID)
	}

	p.setStatus(ctx, b, StatusReleased)
	log.Info("Release complete.", "container", releaseID)
	p.finish(b, log)
}

func (p *Pipeline) finish(b *workspace.Build, log *slog.Logger) {
	if err := b.Finish(); err != nil {
		log.Error("Failed to write completion marker.", "err", err)
	}
}

func (p *Pipeline) setStatus(ctx context.Context, b *workspace.Build, status Status) {
	if p.history == nil {
		return
	}
	if err := p.history.SetStatus(ctx, b.App, b.ID, status); err != nil {
		slog.Warn("Failed to record build status.", "build", b.ID.String(), "status", status, "err", err)
	}
}

func (p *Pipeline) recordExitCode(ctx context.Context, b *workspace.Build, code int) {
	if p.history == nil {
		return
	}
	if err := p.history.SetExitCode(ctx, b.App, b.ID, code); err != nil {
		slog.Warn("Failed to record compile exit code.", "build", b.ID.String(), "err", err)
	}
}

func (p *Pipeline) recordReleaseContainer(ctx context.Context, b *workspace.Build, id string) {
	if p.history == nil {
		return
	}
	if err := p.history.SetReleaseContainer(ctx, b.App, b.ID, id); err != nil {
		slog.Warn("Failed to record release container.", "build", b.ID.String(), "err", err)
	}
}
