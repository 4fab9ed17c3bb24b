package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/devbush/docscribe/internal/adapters/fsutil"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/spf13/afero"
)

// Store tracks submitted batch jobs in a single JSON array file
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore creates a job store backed by the JSON array at path
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) List() ([]domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Get(id string) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

func (s *Store) Upsert(job *domain.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.read()
	if err != nil {
		return err
	}

	replaced := false
	for i := range jobs {
		if jobs[i].ID == job.ID {
			jobs[i] = *job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, *job)
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return fsutil.WriteJSONAtomic(s.fs, s.path, jobs)
}

// read loads the jobs file. Caller holds mu.
func (s *Store) read() ([]domain.BatchJob, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.BatchJob{}, nil
		}
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs []domain.BatchJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateCorrupt, s.path)
	}
	if jobs == nil {
		jobs = []domain.BatchJob{}
	}
	return jobs, nil
}

var _ ports.JobStore = (*Store)(nil)
