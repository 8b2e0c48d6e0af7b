package settings

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Registry holds the enabled provider configurations loaded from a config
// directory. The first enabled configuration (in file name order) becomes
// the default.
type Registry struct {
	configs     map[string]*ProviderSettings
	defaultName string
}

func NewRegistry() *Registry {
	return &Registry{
		configs: make(map[string]*ProviderSettings),
	}
}

// LoadDirectory reads every *.yaml file in dir. Files that fail to parse
// are logged and skipped, so one broken config does not take down the rest.
func LoadDirectory(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config directory %s", dir)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	r := NewRegistry()
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("could not read provider config")
			continue
		}

		s, err := ParseSettings(data)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("could not parse provider config")
			continue
		}
		if !s.Enabled {
			log.Debug().Str("name", s.Name).Msg("skipping disabled provider config")
			continue
		}

		r.Add(s)
	}

	return r, nil
}

func (r *Registry) Add(s *ProviderSettings) {
	r.configs[s.Name] = s
	if r.defaultName == "" {
		r.defaultName = s.Name
	}
}

func (r *Registry) Get(name string) (*ProviderSettings, bool) {
	s, ok := r.configs[name]
	return s, ok
}

// Default returns the first enabled configuration, or false when the
// registry is empty.
func (r *Registry) Default() (*ProviderSettings, bool) {
	if r.defaultName == "" {
		return nil, false
	}
	return r.configs[r.defaultName], true
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
