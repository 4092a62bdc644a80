// Package artifact tracks the files jobs consume and produce. Every path is
// derived from the owning job ID plus a random token, so concurrent jobs
// never collide in the shared work directory. Intermediates are reclaimed by
// the pipeline itself; outputs live until delivery or the age-based sweep.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Artifact roles.
const (
	RoleInput        = "input"
	RoleIntermediate = "intermediate"
	RoleOutput       = "output"
)

// Artifact is one tracked file.
type Artifact struct {
	Path       string
	OwnerJobID string
	Role       string
	// Name is the caller-facing filename for outputs (the on-disk name is
	// an opaque token).
	Name      string
	CreatedAt time.Time
}

// Store is a filesystem-backed artifact registry rooted at a single work
// directory. Safe for concurrent use.
type Store struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	byPath map[string]*Artifact
}

// NewStore creates the work directory if needed and returns a store over it.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		byPath: make(map[string]*Artifact),
	}, nil
}

// Dir returns the work directory root.
func (s *Store) Dir() string {
	return s.dir
}

// Allocate registers a fresh artifact path for a job. The file itself is
// created by whoever writes it.
func (s *Store) Allocate(jobID, role, ext string) *Artifact {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s-%s.%s", jobID, uuid.NewString(), ext)
	a := &Artifact{
		Path:       filepath.Join(s.dir, name),
		OwnerJobID: jobID,
		Role:       role,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.byPath[a.Path] = a
	s.mu.Unlock()
	return a
}

// Adopt reassigns an artifact to a job. Uploads are written before their
// job exists, so submission re-owns them once the ID is known.
func (s *Store) Adopt(a *Artifact, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.OwnerJobID = jobID
	if tracked, ok := s.byPath[a.Path]; ok {
		tracked.OwnerJobID = jobID
	}
}

// Promote marks an artifact as the job's output, sparing it from
// ReleaseJob's end-of-pipeline cleanup.
func (s *Store) Promote(a *Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Role = RoleOutput
	if tracked, ok := s.byPath[a.Path]; ok {
		tracked.Role = RoleOutput
	}
}

// Remove deletes an artifact's file and drops it from the registry. A
// missing file is not an error.
func (s *Store) Remove(a *Artifact) error {
	if a == nil {
		return nil
	}
	return s.RemovePath(a.Path)
}

// RemovePath is Remove keyed by path.
func (s *Store) RemovePath(path string) error {
	s.mu.Lock()
	delete(s.byPath, path)
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// ReleaseJob deletes everything a job still owns. With keepOutput set, the
// output artifact survives for delivery; everything else goes regardless of
// how the pipeline exited.
func (s *Store) ReleaseJob(jobID string, keepOutput bool) {
	s.mu.Lock()
	var victims []string
	for path, a := range s.byPath {
		if a.OwnerJobID != jobID {
			continue
		}
		if keepOutput && a.Role == RoleOutput {
			continue
		}
		victims = append(victims, path)
		delete(s.byPath, path)
	}
	s.mu.Unlock()

	for _, path := range victims {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove artifact", "path", path, "error", err)
		}
	}
}

// Sweep removes tracked artifacts older than maxAge, then scans the work
// directory for untracked leftovers (from a crashed process) past the same
// age. Returns the number of files removed.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	s.mu.Lock()
	var victims []string
	for path, a := range s.byPath {
		if a.CreatedAt.Before(cutoff) {
			victims = append(victims, path)
			delete(s.byPath, path)
		}
	}
	tracked := make(map[string]bool, len(s.byPath))
	for path := range s.byPath {
		tracked[path] = true
	}
	s.mu.Unlock()

	for _, path := range victims {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("sweep failed to remove artifact", "path", path, "error", err)
			continue
		}
		removed++
	}

	// Orphan scan: files nobody tracks, old enough by mtime.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("sweep failed to read work dir", "error", err)
		return removed
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if tracked[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("sweep failed to remove orphan", "path", path, "error", err)
			continue
		}
		removed++
	}

	return removed
}

// Count returns the number of tracked artifacts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPath)
}

// FreeDiskBytes reports free space on the filesystem holding the work dir.
func (s *Store) FreeDiskBytes() (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(s.dir, &fs); err != nil {
		return 0, fmt.Errorf("statfs work dir: %w", err)
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
