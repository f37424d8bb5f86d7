package source

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
)

// Info describes a registered source.
type Info struct {
	Name    string `json:"name"`
	Adapter string `json:"adapter"`
	Enabled bool   `json:"enabled"`
}

// Registry manages the configured source adapters.
type Registry interface {
	Get(name string) (Adapter, error)
	Register(a Adapter, enabled bool)
	List() []Info
	Enabled() []string
}

// NewRegistry creates an empty registry.
func NewRegistry() Registry {
	return &registry{
		entries: make(map[string]entry, 4),
	}
}

// NewRegistryFromConfig builds an adapter for every configured source.
// Each source gets its own Fetcher, so rate limits apply per source.
func NewRegistryFromConfig(
	log logrus.FieldLogger,
	cfg *config.Config,
	client *http.Client,
) (Registry, error) {
	r := NewRegistry()

	for _, src := range cfg.Sources {
		policy, err := cfg.Fetch.Merge(src.Fetch).Policy()
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}

		fetcher := NewFetcher(log.WithField("source", src.Name), policy, client)

		adapter, err := NewAdapter(log, src, fetcher)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}

		r.Register(adapter, src.IsEnabled())
	}

	return r, nil
}

// NewAdapter creates the adapter variant named by src.Adapter.
func NewAdapter(
	log logrus.FieldLogger,
	src config.SourceConfig,
	fetcher Fetcher,
) (Adapter, error) {
	switch src.Adapter {
	case config.AdapterCommunica:
		return NewCommunicaAdapter(log, src, fetcher)
	case config.AdapterMicroRobotics:
		return NewMicroRoboticsAdapter(log, src, fetcher)
	case config.AdapterMock:
		return NewMockAdapter(log, src)
	default:
		return nil, fmt.Errorf("unknown adapter %q", src.Adapter)
	}
}

type entry struct {
	adapter Adapter
	enabled bool
}

type registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Ensure interface compliance.
var _ Registry = (*registry)(nil)

// Get returns the adapter registered under name.
func (r *registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	return e.adapter, nil
}

// Register adds or replaces an adapter.
func (r *registry) Register(a Adapter, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[a.Name()] = entry{adapter: a, enabled: enabled}
}

// List returns every registered source sorted by name.
func (r *registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for name, e := range r.entries {
		infos = append(infos, Info{
			Name:    name,
			Adapter: e.adapter.Kind(),
			Enabled: e.enabled,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// Enabled returns the names of enabled sources sorted by name.
func (r *registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.enabled {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}
