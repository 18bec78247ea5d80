// Package storage provides access to labeled handwriting samples for
// recognizer evaluation.
package storage

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/happyhackingspace/hzr/features"
	"github.com/happyhackingspace/hzr/internal/ink"
)

// IndexFile is the name of the sample index inside a data folder.
const IndexFile = "index.json"

// Storage wraps the sample data folder.
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given data folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

// IndexEntry describes one sample file in index.json, keyed by its path
// relative to the data folder.
type IndexEntry struct {
	Label  string `json:"label"`
	Writer string `json:"writer,omitempty"`
}

// Sample is one labeled handwriting sample.
type Sample struct {
	Path    string
	Label   string
	Writer  string
	Strokes []features.Stroke
}

// GetIndex reads the index file.
func (s *Storage) GetIndex() (map[string]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.Folder, IndexFile))
	if err != nil {
		return nil, err
	}
	var index map[string]IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// PutIndex writes the index file.
func (s *Storage) PutIndex(index map[string]IndexEntry) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Folder, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Folder, IndexFile), data, 0644)
}

// IterOptions controls sample iteration behavior.
type IterOptions struct {
	DropDuplicates bool
	DropUnlabeled  bool
}

// DefaultIterOptions returns the default options for iterating samples.
func DefaultIterOptions() IterOptions {
	return IterOptions{
		DropDuplicates: true,
		DropUnlabeled:  true,
	}
}

// IterSamples reads every indexed sample, ordered by writer and path.
// Unreadable files are logged and skipped.
func (s *Storage) IterSamples(opts IterOptions) ([]Sample, error) {
	index, err := s.GetIndex()
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	type pathInfo struct {
		path string
		info IndexEntry
	}
	sorted := make([]pathInfo, 0, len(index))
	for path, info := range index {
		sorted = append(sorted, pathInfo{path, info})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].info.Writer != sorted[j].info.Writer {
			return sorted[i].info.Writer < sorted[j].info.Writer
		}
		return sorted[i].path < sorted[j].path
	})

	seen := make(map[[md5.Size]byte]bool)
	var samples []Sample
	for _, pi := range sorted {
		if opts.DropUnlabeled && pi.info.Label == "" {
			continue
		}

		full := filepath.Join(s.Folder, pi.path)
		data, err := os.ReadFile(full)
		if err != nil {
			slog.Warn("Cannot read sample file", "path", pi.path, "error", err)
			continue
		}

		// Deduplication by file content hash
		if opts.DropDuplicates {
			sum := md5.Sum(data)
			if seen[sum] {
				continue
			}
			seen[sum] = true
		}

		strokes, err := ink.Decode(data)
		if err != nil {
			slog.Warn("Cannot decode sample file", "path", pi.path, "error", err)
			continue
		}
		samples = append(samples, Sample{
			Path:    pi.path,
			Label:   pi.info.Label,
			Writer:  pi.info.Writer,
			Strokes: strokes,
		})
	}
	return samples, nil
}
