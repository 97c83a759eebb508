package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/copygrid/trade-relay/internal/relay"
)

const registryFile = "registry.json"

// FileStore is the durable disk backend. One JSON record per group log
// under <dir>/groups/, plus registry.json, each replaced atomically: the
// record is written to a temporary sibling and renamed over the target, so
// a crash mid-write can never leave a corrupt record. There is no
// cross-file transaction.
type FileStore struct {
	dir string
}

// NewFile creates the data directory layout and verifies it is writable.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "groups"), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("data dir not writable: %w", err)
	}
	_ = os.Remove(probe)
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) groupPath(group string) string {
	// Group names are caller-chosen strings; escape them into safe
	// single-segment file names.
	return filepath.Join(s.dir, "groups", url.PathEscape(group)+".json")
}

func (s *FileStore) Load(ctx context.Context) (*relay.PersistedState, error) {
	state := &relay.PersistedState{Groups: make(map[string]*relay.GroupRecord)}

	entries, err := os.ReadDir(filepath.Join(s.dir, "groups"))
	if err != nil {
		return nil, fmt.Errorf("read groups dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, "groups", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read group record %s: %w", e.Name(), err)
		}
		var rec relay.GroupRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode group record %s: %w", e.Name(), err)
		}
		state.Groups[rec.Group] = &rec
	}

	data, err := os.ReadFile(filepath.Join(s.dir, registryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("read registry record: %w", err)
	}
	var reg relay.RegistryRecord
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry record: %w", err)
	}
	state.Registry = &reg
	return state, nil
}

func (s *FileStore) SaveGroup(ctx context.Context, rec *relay.GroupRecord) error {
	return s.writeAtomic(s.groupPath(rec.Group), rec)
}

func (s *FileStore) SaveRegistry(ctx context.Context, rec *relay.RegistryRecord) error {
	return s.writeAtomic(filepath.Join(s.dir, registryFile), rec)
}

// writeAtomic replaces path with the JSON encoding of v via a temp file and
// rename.
func (s *FileStore) writeAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error {
	return nil
}
