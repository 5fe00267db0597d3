package ips

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tradescout/optionrun/internal/domain"
)

// FileStore reads policies from YAML files. The id resolves to <dir>/<id>.yaml
// unless it already names a readable file, which lets the CLI pass a path
// directly. The IPS builder's own persistence is out of scope here.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir ("." when empty).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) GetIPS(_ context.Context, id string) (*Config, error) {
	path := id
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(s.dir, id+".yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read ips file %s: %v", domain.ErrIPSSchema, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse ips file %s: %v", domain.ErrIPSSchema, path, err)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	return &cfg, nil
}

// StaticStore serves a fixed set of preloaded policies. Tests use it.
type StaticStore map[string]*Config

func (s StaticStore) GetIPS(_ context.Context, id string) (*Config, error) {
	cfg, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ips %q", domain.ErrIPSSchema, id)
	}
	clone := *cfg
	clone.Factors = append([]Factor(nil), cfg.Factors...)
	return &clone, nil
}
