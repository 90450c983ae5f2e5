// Package fake provides in-memory test doubles for the pipeline's
// container runtime.
package fake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"slipway/internal/pipeline"
)

var _ pipeline.ContainerRuntime = (*ContainerRuntime)(nil)

type containerState struct {
	Config  pipeline.CreateConfig
	Created time.Time
	Running bool
	Ports   []string
}

// ContainerRuntime is an in-memory implementation of
// pipeline.ContainerRuntime. Created containers report their declared
// ports as bound unless UnboundPorts is set.
type ContainerRuntime struct {
	CallRecorder
	mu         sync.Mutex
	ready      bool
	seq        int
	clock      time.Time
	containers map[string]*containerState

	// RunExitCode is returned by ContainerRun. RunStdout/RunStderr, when
	// non-empty, are written to the corresponding stream first.
	RunExitCode int
	RunStdout   string
	RunStderr   string

	WaitReadyErr        func(ctx context.Context) error
	ContainerRunErr     func(ctx context.Context, cfg pipeline.RunConfig) error
	ContainerCreateErr  func(ctx context.Context, cfg pipeline.CreateConfig) error
	ContainerStartErr   func(ctx context.Context, id string) error
	ContainerInspectErr func(ctx context.Context, id string) error
	ContainerListErr    func(ctx context.Context, labelFilter map[string]string) error
	ContainerStopErr    func(ctx context.Context, id string) error

	// UnboundPorts, when true, makes inspected containers report no ports.
	UnboundPorts bool
}

// NewContainerRuntime creates a ContainerRuntime that is ready by default.
func NewContainerRuntime() *ContainerRuntime {
	return &ContainerRuntime{
		ready:      true,
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		containers: make(map[string]*containerState),
	}
}

func (r *ContainerRuntime) WaitReady(ctx context.Context) error {
	r.record("WaitReady")
	if r.WaitReadyErr != nil {
		if err := r.WaitReadyErr(ctx); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return fmt.Errorf("container runtime not ready")
	}
	return nil
}

func (r *ContainerRuntime) ContainerRun(ctx context.Context, cfg pipeline.RunConfig, stdout, stderr io.Writer) (int, error) {
	r.record("ContainerRun", cfg)
	if r.ContainerRunErr != nil {
		if err := r.ContainerRunErr(ctx, cfg); err != nil {
			return 0, err
		}
	}
	if r.RunStdout != "" {
		if _, err := io.WriteString(stdout, r.RunStdout); err != nil {
			return 0, err
		}
	}
	if r.RunStderr != "" {
		if _, err := io.WriteString(stderr, r.RunStderr); err != nil {
			return 0, err
		}
	}
	return r.RunExitCode, nil
}

func (r *ContainerRuntime) ContainerCreate(ctx context.Context, cfg pipeline.CreateConfig) (string, error) {
	r.record("ContainerCreate", cfg)
	if r.ContainerCreateErr != nil {
		if err := r.ContainerCreateErr(ctx, cfg); err != nil {
			return "", err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	id := fmt.Sprintf("fake-%04d", r.seq)
	// Each creation advances the fake clock so creation-time ordering is
	// deterministic.
	r.clock = r.clock.Add(time.Second)

	var ports []string
	if !r.UnboundPorts {
		for _, p := range cfg.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			ports = append(ports, fmt.Sprintf("%d/%s", p.Number, proto))
		}
	}
	r.containers[id] = &containerState{
		Config:  cfg,
		Created: r.clock,
		Ports:   ports,
	}
	return id, nil
}

func (r *ContainerRuntime) ContainerStart(ctx context.Context, id string) error {
	r.record("ContainerStart", id)
	if r.ContainerStartErr != nil {
		if err := r.ContainerStartErr(ctx, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok {
		return fmt.Errorf("container %q not found", id)
	}
	cs.Running = true
	return nil
}

func (r *ContainerRuntime) ContainerInspect(ctx context.Context, id string) (pipeline.ContainerInfo, error) {
	r.record("ContainerInspect", id)
	if r.ContainerInspectErr != nil {
		if err := r.ContainerInspectErr(ctx, id); err != nil {
			return pipeline.ContainerInfo{}, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok {
		return pipeline.ContainerInfo{}, fmt.Errorf("container %q not found", id)
	}
	return pipeline.ContainerInfo{
		ID:      id,
		Running: cs.Running,
		Created: cs.Created,
		Ports:   append([]string(nil), cs.Ports...),
	}, nil
}

func (r *ContainerRuntime) ContainerList(ctx context.Context, labelFilter map[string]string) ([]pipeline.ContainerSummary, error) {
	r.record("ContainerList", labelFilter)
	if r.ContainerListErr != nil {
		if err := r.ContainerListErr(ctx, labelFilter); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []pipeline.ContainerSummary
	for id, cs := range r.containers {
		if !matchesLabels(cs.Config.Labels, labelFilter) {
			continue
		}
		out = append(out, pipeline.ContainerSummary{
			ID:      id,
			Name:    cs.Config.Name,
			Created: cs.Created,
			Running: cs.Running,
			Labels:  cs.Config.Labels,
		})
	}
	return out, nil
}

func (r *ContainerRuntime) ContainerStop(ctx context.Context, id string) error {
	r.record("ContainerStop", id)
	if r.ContainerStopErr != nil {
		if err := r.ContainerStopErr(ctx, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cs, ok := r.containers[id]
	if !ok {
		return nil
	}
	cs.Running = false
	if cs.Config.AutoRemove {
		delete(r.containers, id)
	}
	return nil
}

func (r *ContainerRuntime) Close() error {
	r.record("Close")
	return nil
}

// Container returns the recorded state for id, for test assertions.
func (r *ContainerRuntime) Container(id string) (pipeline.CreateConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.containers[id]
	if !ok {
		return pipeline.CreateConfig{}, false
	}
	return cs.Config, true
}

func matchesLabels(labels, filter map[string]string) bool {
	for key, value := range filter {
		if labels[key] != value {
			return false
		}
	}
	return true
}
