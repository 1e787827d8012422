package checkpoint

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papersim/pkg/exception"
)

const (
	// NameLayout names checkpoint files so that lexical order is time order.
	NameLayout = "20060102T150405.000000Z"
	latestName = "latest.json"
	ext        = ".json"
)

// FileStore keeps one directory of checkpoints per simulator under Root.
// latest.json always mirrors the most recent save.
type FileStore struct {
	Root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

// Save writes the checkpoint and refreshes latest.json. Both files are
// written to a temp file, synced, then renamed over the target, so a failed
// save never leaves a truncated checkpoint behind. It returns the path of
// the timestamped file.
func (s *FileStore) Save(cp Checkpoint) (string, error) {
	dir, err := s.dir(cp.SimulatorID)
	if err != nil {
		return "", err
	}
	data, err := Marshal(cp)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("dir", dir)
	}

	name := cp.Timestamp.UTC().Format(NameLayout) + ext
	path := filepath.Join(dir, name)
	if err := writeAtomic(dir, name, data); err != nil {
		return "", err
	}
	if err := writeAtomic(dir, latestName, data); err != nil {
		return "", err
	}
	syncDir(dir)

	logs.Infof("checkpoint saved, simulator: %s, path: %s", cp.SimulatorID, path)
	return path, nil
}

// Load reads a named checkpoint of a simulator.
func (s *FileStore) Load(simulatorID, name string) (Checkpoint, error) {
	dir, err := s.dir(simulatorID)
	if err != nil {
		return Checkpoint{}, err
	}
	if name == "" || filepath.Base(name) != name {
		return Checkpoint{}, errors.Wrapf(exception.ErrInvalidArgument, "checkpoint name %q", name)
	}
	return read(filepath.Join(dir, name))
}

// LoadLatest reads latest.json without scanning the directory.
func (s *FileStore) LoadLatest(simulatorID string) (Checkpoint, error) {
	return s.Load(simulatorID, latestName)
}

// List returns the timestamped checkpoint names of a simulator, oldest
// first. latest.json and leftover temp files are skipped.
func (s *FileStore) List(simulatorID string) ([]string, error) {
	dir, err := s.dir(simulatorID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("dir", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == latestName || filepath.Ext(name) != ext {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) dir(simulatorID string) (string, error) {
	id := strings.TrimSpace(simulatorID)
	if id == "" || id != simulatorID || filepath.Base(id) != id || id == "." || id == ".." {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "simulator id %q", simulatorID)
	}
	return filepath.Join(s.Root, id), nil
}

func read(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, errors.Wrapf(exception.ErrCheckpointNotFound, "%s", path)
		}
		return Checkpoint{}, errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("path", path)
	}
	return Unmarshal(data)
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("dir", dir)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("path", tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("path", tmpName)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(exception.ErrCheckpointIO, err.Error()).With("path", tmpName)
	}
	return nil
}

// syncDir persists the renames. Not every platform supports it.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
