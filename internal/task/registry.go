// Package task holds the declarative registry of named scrape targets.
// Targets are defined in a YAML file so new tasks can be added without
// touching fetcher or extractor code.
package task

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTask is returned when a task name is not in the registry.
var ErrUnknownTask = errors.New("unknown task")

// Selectors are the per-target CSS selectors used by the extractor.
// Item is matched per listing; the rest are evaluated inside each item.
type Selectors struct {
	Item     string `yaml:"item"`
	ID       string `yaml:"id"`       // attribute reference, e.g. "a@href" or "@data-id"
	Title    string `yaml:"title"`
	Price    string `yaml:"price"`
	Location string `yaml:"location"`
	Posted   string `yaml:"posted"`
	Link     string `yaml:"link"` // anchor whose href becomes the record URL
}

// Target is one registered scrape job.
type Target struct {
	Name string `yaml:"name"`
	// URL is the listing page template. A "{page}" placeholder selects
	// the page number; without one, only the first page is fetched.
	URL     string `yaml:"url"`
	PageCap int    `yaml:"page_cap"`
	// Politeness is the minimum inter-request delay toward the target
	// site, in time.ParseDuration syntax (e.g. "2s").
	Politeness string    `yaml:"politeness"`
	Selectors  Selectors `yaml:"selectors"`
	// Schedule is an optional cron expression for recurring runs.
	Schedule string `yaml:"schedule"`
	// Recipients overrides the global notification recipients.
	Recipients []string `yaml:"recipients"`

	politeness time.Duration
}

// PolitenessInterval returns the parsed inter-request delay,
// defaulting to 2s.
func (t Target) PolitenessInterval() time.Duration {
	if t.politeness > 0 {
		return t.politeness
	}
	if d, err := time.ParseDuration(t.Politeness); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// PageURL renders the listing URL for a 1-based page number.
func (t Target) PageURL(page int) string {
	if !strings.Contains(t.URL, "{page}") {
		return t.URL
	}
	return strings.ReplaceAll(t.URL, "{page}", fmt.Sprintf("%d", page))
}

// Paginated reports whether the target declares a page placeholder.
func (t Target) Paginated() bool {
	return strings.Contains(t.URL, "{page}")
}

type registryFile struct {
	Tasks []Target `yaml:"tasks"`
}

// Registry is a thread-safe lookup of targets by name. Reload swaps the
// whole set atomically so in-flight runs keep the target they started with.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
	path    string
}

// LoadRegistry reads and validates the registry file.
func LoadRegistry(path string) (*Registry, error) {
	targets, err := readRegistryFile(path)
	if err != nil {
		return nil, err
	}
	return &Registry{targets: targets, path: path}, nil
}

// NewRegistry builds a registry from in-memory targets (for testing).
// Targets go through the same validation and defaulting as the
// registry file; invalid ones panic.
func NewRegistry(targets ...Target) *Registry {
	m := make(map[string]Target, len(targets))
	for _, t := range targets {
		if err := validateTarget(&t); err != nil {
			panic(fmt.Sprintf("invalid target %q: %v", t.Name, err))
		}
		m[t.Name] = t
	}
	return &Registry{targets: m}
}

// Get returns the target for a task name, or ErrUnknownTask.
func (r *Registry) Get(name string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for n := range r.targets {
		names = append(names, n)
	}
	return names
}

// Scheduled returns all targets that declare a cron schedule.
func (r *Registry) Scheduled() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Target
	for _, t := range r.targets {
		if t.Schedule != "" {
			out = append(out, t)
		}
	}
	return out
}

// Reload re-reads the registry file and swaps the target set.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}
	targets, err := readRegistryFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.targets = targets
	r.mu.Unlock()
	return nil
}

func readRegistryFile(path string) (map[string]Target, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading task registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing task registry: %w", err)
	}

	targets := make(map[string]Target, len(file.Tasks))
	for i := range file.Tasks {
		t := file.Tasks[i]
		if err := validateTarget(&t); err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		if _, dup := targets[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		targets[t.Name] = t
	}
	return targets, nil
}

func validateTarget(t *Target) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.URL == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(strings.ReplaceAll(t.URL, "{page}", "1"))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	if t.Selectors.Item == "" {
		return fmt.Errorf("selectors.item is required")
	}
	if t.PageCap <= 0 {
		t.PageCap = 10
	}
	if t.Politeness != "" {
		d, err := time.ParseDuration(t.Politeness)
		if err != nil {
			return fmt.Errorf("invalid politeness %q: %w", t.Politeness, err)
		}
		if d < 0 {
			return fmt.Errorf("politeness cannot be negative")
		}
		t.politeness = d
	}
	return nil
}
