package pipeline

import (
	"context"
	"io"
	"time"
)

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ContainerRuntime abstracts the container engine operations the pipeline
// needs.
// Production: infra/docker.Runtime (wrapping a Docker *client.Client)
// Testing: infra/fake.ContainerRuntime
type ContainerRuntime interface {
	// Daemon health
	WaitReady(ctx context.Context) error

	// ContainerRun executes a container to completion, piping its stdout
	// and stderr into the given writers, and returns the exit code. The
	// writers must stay open for the container's entire lifetime.
	ContainerRun(ctx context.Context, cfg RunConfig, stdout, stderr io.Writer) (int, error)

	// Long-lived container lifecycle
	ContainerCreate(ctx context.Context, cfg CreateConfig) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerInspect(ctx context.Context, id string) (ContainerInfo, error)
	ContainerList(ctx context.Context, labelFilter map[string]string) ([]ContainerSummary, error)
	ContainerStop(ctx context.Context, id string) error

	Close() error
}

// Mount describes a bind mount for a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunConfig holds parameters for a run-to-completion container.
type RunConfig struct {
	Image      string
	Cmd        []string
	Env        []string
	Mounts     []Mount
	AutoRemove bool
}

// Port declares a container port to expose, e.g. 8080/tcp.
type Port struct {
	Number   int
	Protocol string
}

// CreateConfig holds parameters for creating a long-lived container.
type CreateConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	Labels      map[string]string
	Ports       []Port
	NetworkMode string
	Mounts      []Mount
	AutoRemove  bool
}

// ContainerInfo describes an inspected container.
type ContainerInfo struct {
	ID      string
	Running bool
	Created time.Time
	// Ports lists the ports present in the container's network settings,
	// formatted as "8080/tcp".
	Ports []string
}

// ContainerSummary describes one entry of a container listing.
type ContainerSummary struct {
	ID      string
	Name    string
	Created time.Time
	Running bool
	Labels  map[string]string
}
