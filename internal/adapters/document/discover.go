package document

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/devbush/docscribe/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Discover walks dir recursively and returns every supported document, sorted by path
func Discover(fs afero.Fs, dir string) ([]domain.Document, error) {
	var docs []domain.Document
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if domain.IsSupported(path) {
			docs = append(docs, domain.NewDocument(path, info.Size()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ParseListFile reads a file containing document paths, one per line.
// Blank lines and lines starting with # are ignored.
func ParseListFile(fs afero.Fs, path string) ([]string, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var paths []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blank lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

// Collect resolves CLI arguments and an optional list file into documents.
// Directories are discovered recursively, unsupported files are dropped and
// a document ID seen twice keeps its first path. A second file with the same
// ID is logged as a warning on log; nil discards it.
func Collect(fs afero.Fs, args []string, listFile string, log logrus.FieldLogger) ([]domain.Document, error) {
	if log == nil {
		log = logging.Discard()
	}

	inputs := append([]string(nil), args...)
	if listFile != "" {
		listed, err := ParseListFile(fs, listFile)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, listed...)
	}

	seen := make(map[string]string)
	var docs []domain.Document
	add := func(d domain.Document) {
		if first, ok := seen[d.ID]; ok {
			if filepath.Clean(first) != filepath.Clean(d.Path) {
				log.WithFields(logrus.Fields{
					"document_id": d.ID,
					"kept":        first,
					"skipped":     d.Path,
				}).Warnf("duplicate document ID %s: keeping %s, skipping %s", d.ID, first, d.Path)
			}
			return
		}
		seen[d.ID] = d.Path
		docs = append(docs, d)
	}

	for _, in := range inputs {
		info, err := fs.Stat(in)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := Discover(fs, in)
			if err != nil {
				return nil, err
			}
			for _, d := range found {
				add(d)
			}
			continue
		}
		if domain.IsSupported(in) {
			add(domain.NewDocument(in, info.Size()))
		}
	}
	return docs, nil
}
