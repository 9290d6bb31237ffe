package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Manager owns an on-disk directory of checkpoint files and enforces a
// per-block retention count (spec §4.8's "checkpoint directory,
// retention" knobs — normally populated from internal/config).
type Manager struct {
	dir       string
	retention int
}

// NewManager creates a Manager writing under dir, keeping at most
// retention checkpoints per block name (0 or negative means unlimited).
// dir is created if it doesn't already exist.
func NewManager(dir string, retention int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: create directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, retention: retention}, nil
}

// fileName returns the on-disk name for a checkpoint of blockName with
// the given checkpoint id: "<blockName>-<id>.ckpt".
func fileName(blockName, id string) string {
	return fmt.Sprintf("%s-%s.ckpt", blockName, id)
}

// Save writes data (as built by Capture) under blockName, generating a
// fresh id via github.com/google/uuid if id is empty, then runs cleanup
// for blockName. Returns the id actually used.
func (m *Manager) Save(blockName, id string, data []byte) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	path := filepath.Join(m.dir, fileName(blockName, id))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := m.cleanup(blockName); err != nil {
		return id, err
	}
	return id, nil
}

// Load reads the checkpoint file for blockName/id.
func (m *Manager) Load(blockName, id string) ([]byte, error) {
	path := filepath.Join(m.dir, fileName(blockName, id))
	return os.ReadFile(path)
}

// List returns the ids of every checkpoint currently retained for
// blockName, oldest first.
func (m *Manager) List(blockName string) ([]string, error) {
	entries, err := m.sortedEntries(blockName)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = idFromFileName(blockName, e.Name())
	}
	return ids, nil
}

// cleanup deletes the oldest checkpoints for blockName beyond the
// configured retention count.
func (m *Manager) cleanup(blockName string) error {
	if m.retention <= 0 {
		return nil
	}
	entries, err := m.sortedEntries(blockName)
	if err != nil {
		return err
	}
	excess := len(entries) - m.retention
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(m.dir, entries[i].Name())); err != nil {
			return err
		}
	}
	return nil
}

// sortedEntries lists blockName's checkpoint files sorted oldest-first by
// modification time.
func (m *Manager) sortedEntries(blockName string) ([]os.DirEntry, error) {
	all, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read directory %s: %w", m.dir, err)
	}
	prefix := blockName + "-"
	var matched []os.DirEntry
	for _, e := range all {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".ckpt") {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		ii, erri := matched[i].Info()
		jj, errj := matched[j].Info()
		if erri != nil || errj != nil {
			return matched[i].Name() < matched[j].Name()
		}
		return ii.ModTime().Before(jj.ModTime())
	})
	return matched, nil
}

func idFromFileName(blockName, name string) string {
	id := strings.TrimPrefix(name, blockName+"-")
	return strings.TrimSuffix(id, ".ckpt")
}
