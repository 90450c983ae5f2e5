// Package docker implements the pipeline's container runtime against the
// Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"slipway/internal/pipeline"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

var _ pipeline.ContainerRuntime = (*Runtime)(nil)

// Runtime implements pipeline.ContainerRuntime using the Docker Engine API.
type Runtime struct {
	cli *client.Client
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli *client.Client) *Runtime {
	return &Runtime{cli: cli}
}

func (r *Runtime) WaitReady(ctx context.Context) error {
	return WaitReady(ctx, r.cli)
}

// ContainerRun creates a container, attaches to its output streams, runs
// it to completion, and returns its exit code. Stdout and stderr are
// demultiplexed into the given writers as they arrive.
func (r *Runtime) ContainerRun(ctx context.Context, cfg pipeline.RunConfig, stdout, stderr io.Writer) (int, error) {
	cc := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		AttachStdout: true,
		AttachStderr: true,
	}
	hc := &container.HostConfig{
		AutoRemove: cfg.AutoRemove,
		Mounts:     bindMounts(cfg.Mounts),
	}

	id, err := r.createWithPull(ctx, cc, hc, cfg.Image, "")
	if err != nil {
		return 0, err
	}

	attach, err := r.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return 0, fmt.Errorf("attach container: %w", err)
	}
	defer attach.Close()

	// Wait registration must precede start so the exit is not missed.
	waitCh, waitErrCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNextExit)

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("start container: %w", err)
	}

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-waitErrCh:
		return 0, fmt.Errorf("wait container: %w", err)
	case status := <-waitCh:
		// Drain remaining output before reporting the exit code.
		if err := <-copyDone; err != nil && err != io.EOF {
			slog.Warn("Container output stream ended abnormally.", "container", id, "err", err)
		}
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container exited with error: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (r *Runtime) ContainerCreate(ctx context.Context, cfg pipeline.CreateConfig) (string, error) {
	cc := &container.Config{
		Image:  cfg.Image,
		Cmd:    cfg.Cmd,
		Env:    cfg.Env,
		Labels: cfg.Labels,
	}
	hc := &container.HostConfig{
		NetworkMode: container.NetworkMode(cfg.NetworkMode),
		AutoRemove:  cfg.AutoRemove,
		Mounts:      bindMounts(cfg.Mounts),
	}

	if len(cfg.Ports) > 0 {
		exposed := make(nat.PortSet, len(cfg.Ports))
		for _, p := range cfg.Ports {
			proto := strings.ToLower(strings.TrimSpace(p.Protocol))
			if proto == "" {
				proto = "tcp"
			}
			exposed[nat.Port(fmt.Sprintf("%d/%s", p.Number, proto))] = struct{}{}
		}
		cc.ExposedPorts = exposed
	}

	return r.createWithPull(ctx, cc, hc, cfg.Image, cfg.Name)
}

func (r *Runtime) ContainerStart(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", id, err)
	}
	return nil
}

func (r *Runtime) ContainerInspect(ctx context.Context, id string) (pipeline.ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return pipeline.ContainerInfo{}, fmt.Errorf("inspect container %q: %w", id, err)
	}

	out := pipeline.ContainerInfo{
		ID:      info.ID,
		Running: info.State != nil && info.State.Running,
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		out.Created = created
	}
	if info.NetworkSettings != nil {
		for port := range info.NetworkSettings.Ports {
			out.Ports = append(out.Ports, string(port))
		}
	}
	return out, nil
}

func (r *Runtime) ContainerList(ctx context.Context, labelFilter map[string]string) ([]pipeline.ContainerSummary, error) {
	filters := dockerfilters.NewArgs()
	for key, value := range labelFilter {
		filters.Add("label", key+"="+value)
	}

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]pipeline.ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, pipeline.ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Created: time.Unix(c.Created, 0),
			Running: c.State == "running",
			Labels:  c.Labels,
		})
	}
	return out, nil
}

func (r *Runtime) ContainerStop(ctx context.Context, id string) error {
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container %q: %w", id, err)
		}
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

// createWithPull creates a container, pulling the image and retrying once
// when the image is not found locally.
func (r *Runtime) createWithPull(ctx context.Context, cc *container.Config, hc *container.HostConfig, img, name string) (string, error) {
	created, err := r.cli.ContainerCreate(ctx, cc, hc, nil, nil, name)
	if err == nil {
		return created.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := r.pullImage(ctx, img); err != nil {
		return "", err
	}
	created, err = r.cli.ContainerCreate(ctx, cc, hc, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container after pull: %w", err)
	}
	return created.ID, nil
}

func (r *Runtime) pullImage(ctx context.Context, img string) error {
	slog.Info("Pulling image.", "image", img)
	resp, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %q: %w", img, err)
	}
	defer resp.Close()
	// Drain the pull output to completion.
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %q: read response: %w", img, err)
	}
	return nil
}

func bindMounts(mounts []pipeline.Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}
