package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/devbush/docscribe/internal/adapters/fsutil"
	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/ports"
	"github.com/spf13/afero"
)

// Store keeps one transcript file per document under a base directory
type Store struct {
	fs      afero.Fs
	baseDir string
}

// NewStore creates a transcript store rooted at baseDir
func NewStore(fs afero.Fs, baseDir string) *Store {
	return &Store{
		fs:      fs,
		baseDir: baseDir,
	}
}

func (s *Store) Dir() string {
	return s.baseDir
}

func (s *Store) Path(documentID string) string {
	return filepath.Join(s.baseDir, documentID+".json")
}

func (s *Store) Exists(documentID string) bool {
	ok, err := afero.Exists(s.fs, s.Path(documentID))
	return err == nil && ok
}

func (s *Store) Write(documentID string, record map[string]any) error {
	data, err := fsutil.MarshalJSON(record)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutputWrite, err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.Path(documentID), data, 0644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutputWrite, err)
	}
	return nil
}

func (s *Store) Read(documentID string) (*domain.Transcript, error) {
	data, err := afero.ReadFile(s.fs, s.Path(documentID))
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrResponseParse, s.Path(documentID))
	}
	return domain.TranscriptFromMap(record), nil
}

// Stats counts stored transcripts and their total size
func (s *Store) Stats() (count int, totalSize int64, err error) {
	entries, err := afero.ReadDir(s.fs, s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		count++
		totalSize += entry.Size()
	}
	return count, totalSize, nil
}

var _ ports.OutputStore = (*Store)(nil)
