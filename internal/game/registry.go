package game

import (
	"sync"

	appErr "codeclash/pkg/errors"
)

// Config holds one game's configuration as loaded from YAML. Which fields a
// game uses is up to its factory.
type Config struct {
	ID              string `yaml:"id"`
	Kind            string `yaml:"kind"`
	Image           string `yaml:"image"`
	EngineDir       string `yaml:"engineDir"`
	RunCommand      string `yaml:"runCommand"`
	ValidateCommand string `yaml:"validateCommand"`
	ResultFile      string `yaml:"resultFile"`
	SimsPerRound    int    `yaml:"simsPerRound"`
}

// Factory builds a fresh adapter instance from configuration. Adapters are
// created per match so nothing leaks between matches.
type Factory func(cfg Config) (Adapter, error)

// Registry selects game adapters by configured id, never by runtime type
// inspection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	configs   map[string]Config
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]Config),
	}
}

// RegisterKind registers a factory under an adapter kind.
func (r *Registry) RegisterKind(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// AddGame registers one configured game. cfg.Kind selects the factory;
// empty Kind defaults to the script adapter.
func (r *Registry) AddGame(cfg Config) error {
	if cfg.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if cfg.Kind == "" {
		cfg.Kind = KindScript
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[cfg.Kind]; !ok {
		return appErr.Newf(appErr.GameNotFound, "unknown game kind %q", cfg.Kind)
	}
	r.configs[cfg.ID] = cfg
	return nil
}

// Adapter builds a fresh adapter for the given game id.
func (r *Registry) Adapter(gameID string) (Adapter, error) {
	r.mu.RLock()
	cfg, ok := r.configs[gameID]
	var factory Factory
	if ok {
		factory = r.factories[cfg.Kind]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, appErr.Newf(appErr.GameNotFound, "game %q is not configured", gameID)
	}
	return factory(cfg)
}

// Has reports whether a game id is configured.
func (r *Registry) Has(gameID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[gameID]
	return ok
}

// Games lists configured game ids.
func (r *Registry) Games() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	return ids
}

// DefaultRegistry returns a registry with the built-in adapter kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterKind(KindScript, NewScriptGame)
	return r
}
