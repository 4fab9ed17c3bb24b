package state

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/devbush/docscribe/internal/adapters/fsutil"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var checkpointPattern = regexp.MustCompile(`^checkpoint_(\d+)\.json$`)

// Checkpoint describes one snapshot file
type Checkpoint struct {
	Path      string
	Processed int
}

// CreateCheckpoint snapshots the active session into checkpoints/checkpoint_<processed>.json
// and prunes snapshots beyond the retention count.
func (m *Manager) CreateCheckpoint() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.active()
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.CheckpointDir(), fmt.Sprintf("checkpoint_%d.json", st.Processed))
	if err := fsutil.WriteJSONAtomic(m.fs, path, st); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"path":      path,
		"processed": st.Processed,
	}).Info("checkpoint created")

	if err := m.prune(); err != nil {
		m.log.WithError(err).Warn("failed to prune old checkpoints")
	}
	return path, nil
}

// Checkpoints lists snapshots ordered from oldest to newest
func (m *Manager) Checkpoints() ([]Checkpoint, error) {
	entries, err := afero.ReadDir(m.fs, m.CheckpointDir())
	if err != nil {
		if exists, _ := afero.DirExists(m.fs, m.CheckpointDir()); !exists {
			return nil, nil
		}
		return nil, err
	}

	var cps []Checkpoint
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := checkpointPattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		n, _ := strconv.Atoi(match[1])
		cps = append(cps, Checkpoint{
			Path:      filepath.Join(m.CheckpointDir(), e.Name()),
			Processed: n,
		})
	}

	sort.Slice(cps, func(i, j int) bool { return cps[i].Processed < cps[j].Processed })
	return cps, nil
}

// LoadCheckpoint reads a snapshot file
func (m *Manager) LoadCheckpoint(path string) (*domain.ProcessingState, error) {
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, err
	}
	var st domain.ProcessingState
	if err := decodeState(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateCorrupt, path)
	}
	return &st, nil
}

// prune removes the oldest checkpoints beyond the retention count. Caller holds mu.
func (m *Manager) prune() error {
	cps, err := m.Checkpoints()
	if err != nil {
		return err
	}
	if len(cps) <= m.retention {
		return nil
	}

	for _, cp := range cps[:len(cps)-m.retention] {
		if err := m.fs.Remove(cp.Path); err != nil {
			return err
		}
		m.log.WithField("path", cp.Path).Debug("pruned checkpoint")
	}
	return nil
}
