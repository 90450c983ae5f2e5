package pipeline_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"slipway/internal/infra/fake"
	"slipway/internal/pipeline"
)

func TestCompile_CapturesLogsAndExitCode(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.RunStdout = "building demo\n"
	rt.RunStderr = "warning: deprecated flag\n"
	rt.RunExitCode = 0
	ws, b := newTestBuild(t)
	p := pipeline.New(rt, ws, testConfig, nil, nil)

	code, err := p.Compile(context.Background(), b)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if code != 0 {
		t.Fatalf("Compile() = %d, want 0", code)
	}

	out, err := os.ReadFile(b.LogPath())
	if err != nil {
		t.Fatalf("read build log: %v", err)
	}
	if string(out) != "building demo\n" {
		t.Fatalf("build log = %q, want stdout content", out)
	}
	errOut, err := os.ReadFile(b.ErrorLogPath())
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if string(errOut) != "warning: deprecated flag\n" {
		t.Fatalf("error log = %q, want stderr content", errOut)
	}
}

func TestCompile_MountsWorkspace(t *testing.T) {
	rt := fake.NewContainerRuntime()
	ws, b := newTestBuild(t)
	p := pipeline.New(rt, ws, testConfig, nil, nil)

	if _, err := p.Compile(context.Background(), b); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	runs := rt.Calls("ContainerRun")
	if len(runs) != 1 {
		t.Fatalf("ContainerRun calls = %d, want 1", len(runs))
	}
	cfg, ok := runs[0].Args[0].(pipeline.RunConfig)
	if !ok {
		t.Fatalf("ContainerRun arg = %T, want RunConfig", runs[0].Args[0])
	}

	if cfg.Image != testConfig.BuildImage {
		t.Fatalf("compile image = %q, want %q", cfg.Image, testConfig.BuildImage)
	}
	if !cfg.AutoRemove {
		t.Fatal("compile container not configured for auto-removal")
	}
	if len(cfg.Mounts) != 3 {
		t.Fatalf("compile mounts = %d, want 3", len(cfg.Mounts))
	}

	src := cfg.Mounts[0]
	if !strings.HasSuffix(src.Source, "abc123.tar.gz") || !src.ReadOnly {
		t.Fatalf("source mount = %+v, want read-only revision archive", src)
	}
	artifact := cfg.Mounts[1]
	if artifact.Source != b.ArtifactPath() || artifact.ReadOnly {
		t.Fatalf("artifact mount = %+v, want read-write artifact path", artifact)
	}
	cache := cfg.Mounts[2]
	if cache.Source != ws.CachePath("demo") || cache.ReadOnly {
		t.Fatalf("cache mount = %+v, want read-write cache path", cache)
	}
}

func TestCompile_ArtifactExistsBeforeContainerStarts(t *testing.T) {
	rt := fake.NewContainerRuntime()
	ws, b := newTestBuild(t)
	p := pipeline.New(rt, ws, testConfig, nil, nil)

	var artifactExisted bool
	rt.ContainerRunErr = func(_ context.Context, cfg pipeline.RunConfig) error {
		_, err := os.Stat(b.ArtifactPath())
		artifactExisted = err == nil
		return nil
	}

	if _, err := p.Compile(context.Background(), b); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !artifactExisted {
		t.Fatal("artifact file absent when compile container started")
	}
}

func TestCompile_NonZeroExitIsNotAnError(t *testing.T) {
	rt := fake.NewContainerRuntime()
	rt.RunExitCode = 1
	ws, b := newTestBuild(t)
	p := pipeline.New(rt, ws, testConfig, nil, nil)

	code, err := p.Compile(context.Background(), b)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if code != 1 {
		t.Fatalf("Compile() = %d, want 1", code)
	}
}
