package adapters

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type entry struct {
	config  *Config
	adapter Adapter
}

// Registry resolves feed URLs to site-specific adapters. Definitions are
// loaded from *.yml files in a directory; the file name is the adapter name.
type Registry struct {
	dir     string
	fetcher Fetcher
	parser  Parser
	entries []entry
	mu      sync.RWMutex
}

func NewRegistry(dir string, fetcher Fetcher, parser Parser) *Registry {
	return &Registry{
		dir:     dir,
		fetcher: fetcher,
		parser:  parser,
	}
}

// Load reads every definition in the directory. A missing directory leaves
// the registry empty.
func (r *Registry) Load() error {
	if r.dir == "" {
		return nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.dir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find adapter files: %w", err)
	}
	sort.Strings(files)

	entries := make([]entry, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := parseConfig(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		config.Name = name

		adapter, err := r.build(config)
		if err != nil {
			return fmt.Errorf("invalid adapter %s: %w", file, err)
		}

		entries = append(entries, entry{config: config, adapter: adapter})
		slog.Debug("Adapter loaded", "name", name, "type", config.Type, "hosts", config.Hosts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries

	return nil
}

// Register adds an adapter that matches the given hosts.
func (r *Registry) Register(adapter Adapter, hosts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry{
		config:  &Config{Name: adapter.Name(), Hosts: hosts},
		adapter: adapter,
	})
}

// Lookup returns the first adapter whose host or marker matches feedURL.
func (r *Registry) Lookup(feedURL string) (Adapter, bool) {
	host := ""
	if parsed, err := url.Parse(feedURL); err == nil {
		host = strings.ToLower(parsed.Hostname())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if matches(e.config, host, feedURL) {
			return e.adapter, true
		}
	}
	return nil, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) build(config *Config) (Adapter, error) {
	if len(config.Hosts) == 0 && len(config.Markers) == 0 {
		return nil, fmt.Errorf("at least one host or marker is required")
	}

	switch config.Type {
	case TypeReadability:
		return NewReadabilityAdapter(config.Name, r.fetcher), nil
	case TypeRewrite:
		return NewRewriteAdapter(config.Name, config.Rewrite, r.fetcher, r.parser)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", config.Type)
	}
}

func parseConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

// matches supports exact hosts, "*.example.com" wildcards and URL substrings.
func matches(config *Config, host, feedURL string) bool {
	for _, pattern := range config.Hosts {
		pattern = strings.ToLower(pattern)
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}

	for _, marker := range config.Markers {
		if marker != "" && strings.Contains(feedURL, marker) {
			return true
		}
	}

	return false
}
