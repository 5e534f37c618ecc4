package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const corruptSuffix = ".corrupt"

type fileState struct {
	StarredRepos []string `json:"starred_repos"`
	LastUpdated  float64  `json:"last_updated"`
}

// FileStore keeps the seen-set in a JSON file. Writes go to a temporary file
// in the same directory which is then renamed over the target.
type FileStore struct {
	path string
	now  func() time.Time
	log  *slog.Logger
}

func NewFileStore(path string, log *slog.Logger) *FileStore {
	return &FileStore{path: path, now: time.Now, log: log}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reports found=false when the file does not exist. A file that cannot
// be decoded is moved aside and reported as an error.
func (s *FileStore) Load(ctx context.Context) ([]string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.InfoContext(ctx, "No state file, starting with empty seen-set",
			"path", s.path)

		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state file: %w", err)
	}

	var state fileState
	if err = json.Unmarshal(data, &state); err != nil {
		s.quarantine(ctx)

		return nil, false, fmt.Errorf("decode state file (path = %s): %w", s.path, err)
	}

	return state.StarredRepos, true, nil
}

func (s *FileStore) Save(_ context.Context, names []string) error {
	if names == nil {
		names = []string{}
	}

	state := fileState{
		StarredRepos: names,
		LastUpdated:  float64(s.now().UnixNano()) / float64(time.Second),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err = tmp.Write(data); err != nil {
		cleanup()

		return fmt.Errorf("write temp file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		cleanup()

		return fmt.Errorf("sync temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *FileStore) quarantine(ctx context.Context) {
	target := s.path + corruptSuffix
	if err := os.Rename(s.path, target); err != nil {
		s.log.WarnContext(ctx, "Failed to move corrupt state file aside",
			"error", err,
			"path", s.path)

		return
	}

	s.log.WarnContext(ctx, "Corrupt state file is moved aside",
		"path", s.path,
		"movedTo", target)
}
