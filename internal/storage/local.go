// Package storage keeps job artifacts on the local filesystem. Each job
// owns one directory with input/ and output/ subdirectories, which makes
// per-job cleanup a single directory removal.
package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/luminapix/backend/internal/config"
)

// ErrInvalidPayload marks input images the caller sent malformed, as
// opposed to disk failures on our side.
var ErrInvalidPayload = errors.New("invalid image payload")

type LocalStore struct {
	cfg *config.StorageConfig
}

func NewLocalStore(cfg *config.StorageConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &LocalStore{cfg: cfg}, nil
}

func (s *LocalStore) jobDir(jobID string) string {
	return filepath.Join(s.cfg.Path, jobID)
}

// SaveInputs decodes base64 payloads and writes them under the job's
// input directory. Data URL prefixes ("data:image/png;base64,") are
// stripped before decoding. Returns the written file paths in order.
func (s *LocalStore) SaveInputs(jobID string, images []string) ([]string, error) {
	dir := filepath.Join(s.jobDir(jobID), "input")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating input dir: %w", err)
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		if idx := strings.Index(img, ";base64,"); strings.HasPrefix(img, "data:") && idx >= 0 {
			img = img[idx+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return nil, fmt.Errorf("%w: input image %d: %v", ErrInvalidPayload, i, err)
		}

		path := filepath.Join(dir, fmt.Sprintf("input_%d.png", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing input image %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SaveOutputs writes result images under the job's output directory and
// returns the download URLs served by the artifact file server.
func (s *LocalStore) SaveOutputs(jobID string, images [][]byte) ([]string, error) {
	dir := filepath.Join(s.jobDir(jobID), "output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	urls := make([]string, 0, len(images))
	for i, data := range images {
		name := fmt.Sprintf("output_%d.png", i)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("writing output image %d: %w", i, err)
		}
		urls = append(urls, fmt.Sprintf("%s/%s/output/%s", s.cfg.URLPrefix, jobID, name))
	}
	return urls, nil
}

// InputPaths lists the job's saved input files in write order.
func (s *LocalStore) InputPaths(jobID string) ([]string, error) {
	dir := filepath.Join(s.jobDir(jobID), "input")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// OutputPath resolves a download request to a file under the job's
// output directory, refusing anything that escapes it.
func (s *LocalStore) OutputPath(jobID, filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}
	path := filepath.Join(s.jobDir(jobID), "output", filename)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// DeleteInputs removes the job's input directory, leaving outputs
// downloadable until the retention sweep collects the whole job.
func (s *LocalStore) DeleteInputs(jobID string) error {
	return os.RemoveAll(filepath.Join(s.jobDir(jobID), "input"))
}

// DeleteAll removes every artifact the job owns.
func (s *LocalStore) DeleteAll(jobID string) error {
	return os.RemoveAll(s.jobDir(jobID))
}

// SweepOlderThan removes job directories not modified since cutoff.
// Individual failures are logged and skipped so one bad directory does
// not stop the sweep. Returns how many directories were removed.
func (s *LocalStore) SweepOlderThan(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("reading storage root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Printf("[STORAGE] sweep stat %s: %v", e.Name(), err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.Path, e.Name())); err != nil {
			log.Printf("[STORAGE] sweep remove %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
