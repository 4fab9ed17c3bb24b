package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devbush/docscribe/internal/adapters/fsutil"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// DefaultRetention is the number of checkpoints kept
const DefaultRetention = 5

// Options configures a Manager
type Options struct {
	Retention int
	Now       func() time.Time
	Logger    logrus.FieldLogger
}

// Delta is one incremental change to the processing state
type Delta = domain.StateDelta

// Manager owns the state file of one processing session.
// The state is absent (no file), active (remaining > 0) or complete (remaining == 0).
type Manager struct {
	fs        afero.Fs
	path      string
	retention int
	now       func() time.Time
	log       logrus.FieldLogger

	mu    sync.Mutex
	state *domain.ProcessingState
}

// NewManager creates a state manager for the state file at path
func NewManager(fs afero.Fs, path string, opts Options) *Manager {
	m := &Manager{
		fs:        fs,
		path:      path,
		retention: opts.Retention,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logging.Discard()
	}
	return m
}

// Path returns the state file path
func (m *Manager) Path() string {
	return m.path
}

// CheckpointDir returns the directory holding checkpoint snapshots
func (m *Manager) CheckpointDir() string {
	return filepath.Join(filepath.Dir(m.path), "checkpoints")
}

// Load reads the state file. A missing file returns (nil, nil). A corrupt file is
// logged, moved aside and also returns (nil, nil).
func (m *Manager) Load() (*domain.ProcessingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load()
	if err != nil {
		return nil, err
	}
	m.state = st
	if st == nil {
		return nil, nil
	}
	return st.Clone(), nil
}

func (m *Manager) load() (*domain.ProcessingState, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st domain.ProcessingState
	if err := decodeState(data, &st); err != nil {
		aside := m.path + ".corrupt"
		m.log.WithError(err).WithField("path", m.path).Error("state file is corrupt, starting without a session")
		if rerr := m.fs.Rename(m.path, aside); rerr != nil {
			m.log.WithError(rerr).Warn("could not move corrupt state file aside")
		}
		return nil, nil
	}
	return &st, nil
}

// CreateNewSession starts a session. Only valid when no state file exists.
func (m *Manager) CreateNewSession(totalDocuments, batchSize int, promptVersion string) (*domain.ProcessingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := afero.Exists(m.fs, m.path)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrSessionExists
	}

	now := m.now()
	st := &domain.ProcessingState{
		SessionID:              now.Format(domain.SessionIDFormat),
		PromptVersion:          promptVersion,
		BatchSize:              batchSize,
		StartTime:              now,
		LastUpdated:            now,
		TotalDocuments:         totalDocuments,
		Remaining:              totalDocuments,
		ConfidenceScores:       []float64{},
		FailedDocuments:        []string{},
		LowConfidenceDocuments: []domain.LowConfidenceDoc{},
	}
	if err := m.save(st); err != nil {
		return nil, err
	}
	m.state = st

	m.log.WithFields(logrus.Fields{
		"session_id": st.SessionID,
		"total":      totalDocuments,
	}).Info("created processing session")
	return st.Clone(), nil
}

// Update applies d to the active session and persists the result
func (m *Manager) Update(d Delta) (*domain.ProcessingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.active()
	if err != nil {
		return nil, err
	}

	next := st.Clone()
	next.Processed += d.Processed
	next.Successful += d.Successful
	next.Failed += d.Failed
	next.Skipped += d.Skipped
	next.CostSoFar += d.Cost
	next.BatchesCompleted += d.BatchesCompleted
	next.Remaining = next.TotalDocuments - next.Processed

	if d.Confidence != nil {
		next.ConfidenceScores = append(next.ConfidenceScores, *d.Confidence)
	}
	if n := len(next.ConfidenceScores); n > 0 {
		sum := 0.0
		for _, s := range next.ConfidenceScores {
			sum += s
		}
		next.AverageConfidence = sum / float64(n)
	}
	if d.FailedDocument != "" {
		next.FailedDocuments = append(next.FailedDocuments, d.FailedDocument)
	}
	if d.LowConfidence != nil {
		next.LowConfidenceDocuments = append(next.LowConfidenceDocuments, *d.LowConfidence)
		next.LowConfidenceCount++
	}

	now := m.now()
	next.LastUpdated = now
	if minutes := now.Sub(next.StartTime).Minutes(); minutes > 0 {
		next.ProcessingSpeed = float64(next.Processed) / minutes
	}
	if next.ProcessingSpeed > 0 {
		next.EstimatedTimeRemaining = float64(max(next.Remaining, 0)) / next.ProcessingSpeed
	} else {
		next.EstimatedTimeRemaining = 0
	}

	if err := m.save(next); err != nil {
		return nil, err
	}
	m.state = next
	return next.Clone(), nil
}

// State returns a copy of the current state, loading it from disk if needed
func (m *Manager) State() (*domain.ProcessingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		st, err := m.load()
		if err != nil {
			return nil, err
		}
		m.state = st
	}
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

// Reset deletes the state file. Valid from any state.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = nil
	if err := m.fs.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	m.log.WithField("path", m.path).Info("processing state reset")
	return nil
}

// active returns the in-memory state of an active session. Caller holds mu.
func (m *Manager) active() (*domain.ProcessingState, error) {
	if m.state == nil {
		st, err := m.load()
		if err != nil {
			return nil, err
		}
		m.state = st
	}
	if m.state == nil {
		return nil, domain.ErrNoSession
	}
	if m.state.IsComplete() {
		return nil, domain.ErrSessionComplete
	}
	return m.state, nil
}

// save persists st atomically. Caller holds mu.
func (m *Manager) save(st *domain.ProcessingState) error {
	if err := fsutil.WriteJSONAtomic(m.fs, m.path, st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func decodeState(data []byte, st *domain.ProcessingState) error {
	return json.Unmarshal(data, st)
}
