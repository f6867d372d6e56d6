package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

const manifestName = "manifest.json"

var (
	ErrInvalidName  = errors.New("invalid artifact name")
	ErrOutsideStore = errors.New("path is outside the artifact store")
)

// FileStore keeps raw pages under <base>/run_<run_id>/<name>. Runs never
// share a directory and names are keyed by page or listing, so writes from
// different runs do not conflict.
type FileStore struct {
	mu   sync.Mutex
	base string
}

func NewFileStore(base string) (*FileStore, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact base: %w", err)
	}
	return &FileStore{base: abs}, nil
}

// RunDir returns the directory holding one run's artifacts.
func (s *FileStore) RunDir(runID string) string {
	return filepath.Join(s.base, "run_"+runID)
}

// Put writes data atomically and returns the artifact's path.
func (s *FileStore) Put(runID, name string, data []byte) (string, error) {
	if err := validName(runID); err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	if err := validName(name); err != nil {
		return "", err
	}

	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return path, nil
}

// Get reads an artifact previously returned by Put.
func (s *FileStore) Get(path string) ([]byte, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Exists reports whether path names a readable artifact inside the store.
func (s *FileStore) Exists(path string) bool {
	abs, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// AppendManifest adds artifact metadata to the run's manifest file.
func (s *FileStore) AppendManifest(runID string, artifacts ...*models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadManifest(runID)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, a := range artifacts {
		existing = append(existing, *a)
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.MkdirAll(s.RunDir(runID), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return writeAtomic(filepath.Join(s.RunDir(runID), manifestName), data)
}

// Manifest returns every artifact recorded for a run, oldest first.
func (s *FileStore) Manifest(runID string) ([]models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts, err := s.loadManifest(runID)
	if os.IsNotExist(err) {
		return []models.Artifact{}, nil
	}
	return artifacts, err
}

func (s *FileStore) loadManifest(runID string) ([]models.Artifact, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), manifestName))
	if err != nil {
		return nil, err
	}
	var artifacts []models.Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return artifacts, nil
}

func (s *FileStore) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, path)
	}
	return abs, nil
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
