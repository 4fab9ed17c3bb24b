package repair

import (
	"fmt"
	"os"

	"github.com/devbush/docscribe/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

const defaultCacheSize = 16

// SchemaCache keeps compiled validators keyed by schema path
type SchemaCache struct {
	fs    afero.Fs
	cache *lru.Cache[string, *Validator]
}

// NewSchemaCache creates a cache reading schemas from fs
func NewSchemaCache(fs afero.Fs, size int) (*SchemaCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *Validator](size)
	if err != nil {
		return nil, err
	}
	return &SchemaCache{fs: fs, cache: cache}, nil
}

// Load returns the validator for path, compiling it on first use.
// A missing file returns domain.ErrSchemaMissing.
func (c *SchemaCache) Load(path string) (*Validator, error) {
	if v, ok := c.cache.Get(path); ok {
		return v, nil
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSchemaMissing, path)
		}
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	v, err := NewValidator(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	c.cache.Add(path, v)
	return v, nil
}

// Raw returns the schema file content, used when embedding the schema in prompts
func (c *SchemaCache) Raw(path string) ([]byte, error) {
	return afero.ReadFile(c.fs, path)
}
