package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape for both formats.
type document struct {
	Tenants map[string]map[string]any `yaml:"tenants" toml:"tenants"`
}

// Store maps tenant identifiers to settings maps. Reads are safe during
// reloads.
type Store struct {
	logger *zap.Logger

	mu       sync.RWMutex
	path     string
	tenants  map[string]map[string]string
	onChange []func(tenants []string)
}

// NewStore returns an empty in-memory store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger, tenants: map[string]map[string]string{}}
}

// Open returns a store loaded from path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := NewStore(logger)
	if err := s.Load(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads path, replaces the store contents and remembers path for Reload
// and Watch. The format follows the extension: .yaml, .yml or .toml.
func (s *Store) Load(path string) error {
	tenants, err := readFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	s.replace(tenants)
	return nil
}

// Reload re-reads the file given to Load. On failure the previous contents
// are kept.
func (s *Store) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return ErrNoFile
	}
	tenants, err := readFile(path)
	if err != nil {
		return err
	}
	s.replace(tenants)
	return nil
}

// Set replaces one tenant's settings and notifies listeners.
func (s *Store) Set(tenant string, values map[string]string) {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	s.mu.Lock()
	s.tenants[tenant] = cp
	listeners := append([]func([]string){}, s.onChange...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn([]string{tenant})
	}
}

// Settings returns a copy of the tenant's settings. Unknown tenants get an
// empty, non-nil map so defaults apply.
func (s *Store) Settings(tenant string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.tenants[tenant]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Has reports whether tenant has a settings section.
func (s *Store) Has(tenant string) bool {
	s.mu.RLock()
	_, ok := s.tenants[tenant]
	s.mu.RUnlock()
	return ok
}

// Tenants returns the configured tenant identifiers in sorted order.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.tenants))
	for t := range s.tenants {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// OnChange registers fn to run after every reload with the tenants whose
// settings were added, changed or removed.
func (s *Store) OnChange(fn func(tenants []string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) replace(next map[string]map[string]string) {
	s.mu.Lock()
	changed := diffTenants(s.tenants, next)
	s.tenants = next
	listeners := append([]func([]string){}, s.onChange...)
	s.mu.Unlock()

	s.logger.Info("tenant settings loaded",
		zap.Int("tenants", len(next)),
		zap.Strings("changed", changed),
	)
	if len(changed) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(changed)
	}
}

func diffTenants(prev, next map[string]map[string]string) []string {
	var changed []string
	for t, nv := range next {
		pv, ok := prev[t]
		if !ok || !equalMaps(pv, nv) {
			changed = append(changed, t)
		}
	}
	for t := range prev {
		if _, ok := next[t]; !ok {
			changed = append(changed, t)
		}
	}
	sort.Strings(changed)
	return changed
}

func equalMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func readFile(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return Decode(filepath.Ext(path), data)
}

// Decode parses data in the format named by ext (".yaml", ".yml" or ".toml").
// Scalar values of any type are rendered to their string form.
func Decode(ext string, data []byte) (map[string]map[string]string, error) {
	var doc document
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml settings: %w", err)
		}
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode toml settings: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	out := make(map[string]map[string]string, len(doc.Tenants))
	for tenant, values := range doc.Tenants {
		if strings.TrimSpace(tenant) == "" {
			continue
		}
		m := make(map[string]string, len(values))
		for k, v := range values {
			if v == nil {
				continue
			}
			m[k] = fmt.Sprint(v)
		}
		out[tenant] = m
	}
	return out, nil
}
