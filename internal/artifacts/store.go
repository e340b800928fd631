package artifacts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/pipeline"
	"quaver/internal/queue"
)

// scratchDirName holds per-stage tool workspaces under the artifacts root so
// publish renames never cross filesystems.
const scratchDirName = ".scratch"

// Store manages per-job artifact namespaces under a single root directory.
type Store struct {
	root   string
	logger *slog.Logger
	statfs statfsFunc
}

// NewStore builds an artifact store rooted at the configured artifacts
// directory, creating the root and scratch directories if needed.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("artifacts: nil config")
	}
	root := strings.TrimSpace(cfg.Paths.ArtifactsDir)
	if root == "" {
		return nil, errors.New("artifacts: artifacts directory not configured")
	}
	if err := os.MkdirAll(filepath.Join(root, scratchDirName), 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create root: %w", err)
	}
	return &Store{
		root:   root,
		logger: logging.NewComponentLogger(logger, "artifacts"),
		statfs: realStatfs,
	}, nil
}

// Root returns the artifacts root directory.
func (s *Store) Root() string {
	return s.root
}

// Namespace returns the directory that holds the given job's artifacts.
func (s *Store) Namespace(jobID string) (string, error) {
	if err := validateID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, jobID), nil
}

// CreateNamespace ensures the job's namespace directory exists.
func (s *Store) CreateNamespace(jobID string) (string, error) {
	dir, err := s.Namespace(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create namespace: %w", err)
	}
	return dir, nil
}

// Publish adopts a tool-written file into the job's namespace. The file is
// copied into the namespace under a temporary name, synced, and renamed to
// the kind's canonical filename. An existing artifact of the same kind is
// replaced atomically.
func (s *Store) Publish(jobID string, kind pipeline.ArtifactKind, srcPath string) (queue.ArtifactRef, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: open source: %w", err)
	}
	defer src.Close()
	return s.PublishReader(jobID, kind, src)
}

// PublishReader streams reader contents into the job's namespace with the
// same atomic temp-then-rename protocol as Publish.
func (s *Store) PublishReader(jobID string, kind pipeline.ArtifactKind, reader io.Reader) (queue.ArtifactRef, error) {
	dir, err := s.CreateNamespace(jobID)
	if err != nil {
		return queue.ArtifactRef{}, err
	}
	target := filepath.Join(dir, kind.FileName())

	tmp, err := os.CreateTemp(dir, ".publish-*.tmp")
	if err != nil {
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	written, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: sync temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return queue.ArtifactRef{}, fmt.Errorf("artifacts: commit artifact: %w", err)
	}

	s.logger.Debug("published artifact",
		logging.String(logging.FieldJobID, jobID),
		logging.String("artifact_kind", string(kind)),
		logging.Int64("size_bytes", written),
	)
	return queue.ArtifactRef{
		Kind:        string(kind),
		Path:        target,
		ContentType: kind.ContentType(),
		SizeBytes:   written,
	}, nil
}

// Open returns a reader for a published artifact after validating that the
// reference still points inside the store root.
func (s *Store) Open(ref queue.ArtifactRef) (io.ReadCloser, error) {
	path, err := s.containedPath(ref.Path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open artifact: %w", err)
	}
	return file, nil
}

// Remove deletes a single published artifact. Missing files are not an
// error so eager intermediate cleanup can run after a partial purge.
func (s *Store) Remove(ref queue.ArtifactRef) error {
	path, err := s.containedPath(ref.Path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: remove artifact: %w", err)
	}
	return nil
}

// PurgeNamespace removes the job's namespace and scratch directories.
// Purging a namespace that never existed or was already purged succeeds.
func (s *Store) PurgeNamespace(jobID string) error {
	dir, err := s.Namespace(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: purge namespace: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, scratchDirName, jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: purge scratch: %w", err)
	}
	return nil
}

// Scratch creates and returns a workspace directory for one stage's tool
// output. The directory is wiped first so retries start clean.
func (s *Store) Scratch(jobID, stageName string) (string, error) {
	if err := validateID(jobID); err != nil {
		return "", err
	}
	if err := validateID(stageName); err != nil {
		return "", fmt.Errorf("artifacts: invalid stage name: %w", err)
	}
	dir := filepath.Join(s.root, scratchDirName, jobID, stageName)
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("artifacts: reset scratch: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create scratch: %w", err)
	}
	return dir, nil
}

// RemoveScratch drops one stage's workspace after its output has been
// published.
func (s *Store) RemoveScratch(jobID, stageName string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := validateID(stageName); err != nil {
		return fmt.Errorf("artifacts: invalid stage name: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, scratchDirName, jobID, stageName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: remove scratch: %w", err)
	}
	return nil
}

// CleanScratch removes all scratch workspaces for a job, keeping published
// artifacts intact.
func (s *Store) CleanScratch(jobID string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, scratchDirName, jobID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: clean scratch: %w", err)
	}
	return nil
}

// containedPath resolves an artifact path and rejects anything outside the
// store root.
func (s *Store) containedPath(path string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	if cleaned == "" || cleaned == "." {
		return "", errors.New("artifacts: empty artifact path")
	}
	rel, err := filepath.Rel(s.root, cleaned)
	if err != nil {
		return "", fmt.Errorf("artifacts: resolve artifact path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifacts: path %q is outside the artifacts root", path)
	}
	return cleaned, nil
}

func validateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("artifacts: empty identifier")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("artifacts: identifier %q contains path elements", id)
	}
	return nil
}
