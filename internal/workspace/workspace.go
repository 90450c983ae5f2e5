// Package workspace manages the on-disk build areas of applications:
// source archives, the shared build cache, and per-build directories
// with their log files and artifact.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	// ErrAppNotFound reports that the application directory does not exist.
	ErrAppNotFound = errors.New("application not found")
	// ErrInvalidRevision reports a missing or empty source revision.
	ErrInvalidRevision = errors.New("invalid revision")
)

const (
	sourcesDir   = "sources"
	buildsDir    = "builds"
	cacheDir     = "cache"
	logsDir      = "logs"
	archiveExt   = ".tar.gz"
	artifactName = "artifact.tar.gz"
	buildLogName = "build.log"
	errorLogName = "error.log"
	markerName   = "done"
)

// Build is one allocated build workspace.
type Build struct {
	App      string
	ID       uuid.UUID
	Revision string
	// Dir is the build directory, LogsDir its logs subdirectory.
	Dir     string
	LogsDir string
}

// ArtifactPath is the deployable artifact file inside the build directory.
// The file exists (possibly empty) from allocation onward so containers
// can bind-mount it by path before it has content.
func (b *Build) ArtifactPath() string { return filepath.Join(b.Dir, artifactName) }

// LogPath is the primary build/runtime log file.
func (b *Build) LogPath() string { return filepath.Join(b.LogsDir, buildLogName) }

// ErrorLogPath is the separate error log file.
func (b *Build) ErrorLogPath() string { return filepath.Join(b.LogsDir, errorLogName) }

// MarkerPath is the completion marker file. Its existence signals that
// the build's full pipeline has finished, regardless of outcome.
func (b *Build) MarkerPath() string { return filepath.Join(b.LogsDir, markerName) }

// Finish writes the completion marker.
func (b *Build) Finish() error {
	f, err := os.Create(b.MarkerPath())
	if err != nil {
		return fmt.Errorf("write completion marker: %w", err)
	}
	return f.Close()
}

// Finished reports whether the completion marker exists.
func (b *Build) Finished() bool {
	_, err := os.Stat(b.MarkerPath())
	return err == nil
}

// Manager allocates build workspaces under a base applications directory.
type Manager struct {
	appsPath string
}

func NewManager(appsPath string) *Manager {
	return &Manager{appsPath: appsPath}
}

// AppPath returns the directory of an application.
func (m *Manager) AppPath(app string) string {
	return filepath.Join(m.appsPath, app)
}

// SourcePath returns the archive path of a revision.
func (m *Manager) SourcePath(app, revision string) string {
	return filepath.Join(m.AppPath(app), sourcesDir, revision+archiveExt)
}

// CachePath returns the application's shared build cache directory. It is
// read-write shared across all builds of the application, with no locking.
func (m *Manager) CachePath(app string) string {
	return filepath.Join(m.AppPath(app), cacheDir)
}

// Allocate creates a new build workspace for a revision of an application:
// a freshly identified build directory, its logs subdirectory, empty log
// files, and an empty artifact file.
//
// It fails with ErrAppNotFound if the application directory does not
// exist, and ErrInvalidRevision if no revision was supplied or its
// archive is absent. Partial allocation is not rolled back; callers treat
// any error as fatal for the request.
func (m *Manager) Allocate(app, revision string) (*Build, error) {
	if info, err := os.Stat(m.AppPath(app)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, app)
	}
	if revision == "" {
		return nil, fmt.Errorf("%w: no revision supplied", ErrInvalidRevision)
	}
	if _, err := os.Stat(m.SourcePath(app, revision)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRevision, revision)
	}

	id, dir, err := m.newBuildDir(app)
	if err != nil {
		return nil, err
	}

	b := &Build{
		App:      app,
		ID:       id,
		Revision: revision,
		Dir:      dir,
		LogsDir:  filepath.Join(dir, logsDir),
	}
	if err := os.Mkdir(b.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	for _, path := range []string{b.LogPath(), b.ErrorLogPath(), b.ArtifactPath()} {
		if err := touch(path); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(m.CachePath(app), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return b, nil
}

// Lookup returns the build workspace for an existing build directory.
// The returned bool is false when no such build exists.
func (m *Manager) Lookup(app string, id uuid.UUID) (*Build, bool) {
	dir := filepath.Join(m.AppPath(app), buildsDir, id.String())
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, false
	}
	return &Build{
		App:     app,
		ID:      id,
		Dir:     dir,
		LogsDir: filepath.Join(dir, logsDir),
	}, true
}

// newBuildDir generates a build identifier and creates its directory,
// drawing a new identifier whenever the directory already exists.
func (m *Manager) newBuildDir(app string) (uuid.UUID, string, error) {
	builds := filepath.Join(m.AppPath(app), buildsDir)
	if err := os.MkdirAll(builds, 0o755); err != nil {
		return uuid.Nil, "", fmt.Errorf("create builds directory: %w", err)
	}

	for {
		id := uuid.New()
		dir := filepath.Join(builds, id.String())
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return uuid.Nil, "", fmt.Errorf("create build directory: %w", err)
		}
	}
}

// ParseBuildID validates a build identifier string. Only well-formed
// version-4 UUIDs are accepted; anything else reports an error before any
// filesystem access.
func ParseBuildID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse build id: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("parse build id: unexpected uuid version %d", id.Version())
	}
	return id, nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
