// ABOUTME: Filesystem-backed RunStore keeping each run in <runs>/<run_id>/ with manifest.json, steps.jsonl and cache.json.
// ABOUTME: Manifest and cache writes go through temp-file + fsync + rename so readers never see a torn file.
package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const (
	manifestFile = "manifest.json"
	stepsFile    = "steps.jsonl"
	cacheFile    = "cache.json"
)

// Compile-time check that FSRunStore implements RunStore.
var _ RunStore = (*FSRunStore)(nil)

// FSRunStore is a filesystem-backed RunStore rooted at a runs directory.
// Readers need no locks: every manifest and cache write replaces the whole
// file atomically, and the step log is only ever appended to.
type FSRunStore struct {
	baseDir string
	logger  *slog.Logger

	// beforeRename runs between the temp write and the rename. Tests use it
	// to simulate a crash at the worst possible moment.
	beforeRename func(tmpPath, target string) error
}

// NewFSRunStore creates a store rooted at baseDir, creating it if needed.
func NewFSRunStore(baseDir string, logger *slog.Logger) (*FSRunStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FSRunStore{baseDir: baseDir, logger: logger}, nil
}

// RunDir returns the directory holding a run's files.
func (s *FSRunStore) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// CreateRun creates the run directory with the initial manifest, an empty
// cache and an empty step log. A run that already exists is an error.
func (s *FSRunStore) CreateRun(m *Manifest) error {
	if m.RunID == "" {
		return errors.New("create run: empty run id")
	}
	runDir := s.RunDir(m.RunID)
	if _, err := os.Stat(runDir); err == nil {
		return fmt.Errorf("run %q already exists", m.RunID)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if err := s.writeJSONAtomic(filepath.Join(runDir, manifestFile), m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := s.writeJSONAtomic(filepath.Join(runDir, cacheFile), Cache{}); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, stepsFile), nil, 0o644); err != nil {
		return fmt.Errorf("create step log: %w", err)
	}
	return nil
}

// UpdateManifest atomically replaces the run's manifest.
func (s *FSRunStore) UpdateManifest(m *Manifest) error {
	runDir, err := s.existingRunDir(m.RunID)
	if err != nil {
		return err
	}
	return s.writeJSONAtomic(filepath.Join(runDir, manifestFile), m)
}

// ReadManifest loads a run's manifest.
func (s *FSRunStore) ReadManifest(runID string) (*Manifest, error) {
	runDir, err := s.existingRunDir(runID)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := readJSON(filepath.Join(runDir, manifestFile), &m); err != nil {
		return nil, fmt.Errorf("read manifest for %q: %w", runID, err)
	}
	return &m, nil
}

// AppendStep writes one record as a single line to the step log and fsyncs it.
// The log is never rewritten or truncated.
func (s *FSRunStore) AppendStep(runID string, rec StepRecord) error {
	runDir, err := s.existingRunDir(runID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, stepsFile), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open step log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write step record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync step log: %w", err)
	}
	return nil
}

// ReadSteps parses the step log in order. A torn final line (a crash in the
// middle of an append) is ignored; corruption anywhere else is an error.
func (s *FSRunStore) ReadSteps(runID string) ([]StepRecord, error) {
	runDir, err := s.existingRunDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(runDir, stepsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []StepRecord{}, nil
		}
		return nil, fmt.Errorf("read step log: %w", err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan step log: %w", err)
	}

	records := make([]StepRecord, 0, len(lines))
	torn := len(data) > 0 && data[len(data)-1] != '\n'
	for i, line := range lines {
		var rec StepRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			if torn && i == len(lines)-1 {
				s.logger.Warn("pipeline: ignoring torn step log line", "run_id", runID)
				break
			}
			return nil, fmt.Errorf("parse step log line %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteCache atomically replaces the run's cache.
func (s *FSRunStore) WriteCache(runID string, cache Cache) error {
	runDir, err := s.existingRunDir(runID)
	if err != nil {
		return err
	}
	if cache == nil {
		cache = Cache{}
	}
	return s.writeJSONAtomic(filepath.Join(runDir, cacheFile), cache)
}

// ReadCache loads the run's cache.
func (s *FSRunStore) ReadCache(runID string) (Cache, error) {
	runDir, err := s.existingRunDir(runID)
	if err != nil {
		return nil, err
	}
	cache := Cache{}
	if err := readJSON(filepath.Join(runDir, cacheFile), &cache); err != nil {
		return nil, fmt.Errorf("read cache for %q: %w", runID, err)
	}
	return cache, nil
}

// ListRuns scans every run directory and returns matching manifests, newest
// first. A corrupt manifest is logged and skipped.
func (s *FSRunStore) ListRuns(filter RunFilter) ([]*Manifest, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var results []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var m Manifest
		if err := readJSON(filepath.Join(s.baseDir, entry.Name(), manifestFile), &m); err != nil {
			s.logger.Warn("pipeline: skip unreadable manifest", "run_id", entry.Name(), "error", err)
			continue
		}
		if filter.Match(&m) {
			results = append(results, &m)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].RunID > results[j].RunID
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (s *FSRunStore) existingRunDir(runID string) (string, error) {
	if runID == "" || filepath.Base(runID) != runID {
		return "", fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	runDir := s.RunDir(runID)
	if _, err := os.Stat(runDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrRunNotFound, runID)
		}
		return "", err
	}
	return runDir, nil
}

// writeJSONAtomic writes v to path via a temp file in the same directory,
// fsyncs it, then renames it over the target.
func (s *FSRunStore) writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
