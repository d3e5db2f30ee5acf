package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hive-corporation/dfir-engine/internal/core/ports"
)

// ProviderInfo describes a registered provider for listings
type ProviderInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// Registry maps provider ids to collaborators. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]ports.Collaborator
	aliases map[string]string
	order   []string
}

var _ ports.CollaboratorRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]ports.Collaborator),
		aliases: make(map[string]string),
	}
}

// Alias makes Get(alias) resolve to the provider registered as id. Aliases are
// not listed.
func (r *Registry) Alias(alias, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = id
}

// Register adds or replaces a collaborator under its ID
func (r *Registry) Register(c ports.Collaborator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[c.ID()]; !exists {
		r.order = append(r.order, c.ID())
	}
	r.byID[c.ID()] = c
}

func (r *Registry) Get(id string) (ports.Collaborator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		c, ok = r.byID[r.aliases[id]]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ports.ErrUnknownProvider, id)
	}
	return c, nil
}

// List returns providers in registration order
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		c := r.byID[id]
		info := ProviderInfo{ID: id, Name: c.Name(), Configured: true}
		if cc, ok := c.(interface{ IsConfigured() bool }); ok {
			info.Configured = cc.IsConfigured()
		}
		out = append(out, info)
	}
	return out
}

// IDs returns the sorted provider ids
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// ProviderOptions holds credentials and endpoints for the built-in providers
type ProviderOptions struct {
	OpenAIKey   string
	OpenAIURL   string
	OpenAIModel string
	GeminiKey   string
	GeminiURL   string
	Timeout     time.Duration
	Client      ResilientClientConfig
}

// NewDefaultRegistry registers openai, gemini-pro and gemini-flash. gpt-4o is
// accepted as an alias of openai.
func NewDefaultRegistry(opts ProviderOptions) *Registry {
	r := NewRegistry()

	r.Register(NewOpenAICollaborator(OpenAIConfig{
		ID:      "openai",
		APIURL:  opts.OpenAIURL,
		APIKey:  opts.OpenAIKey,
		Model:   opts.OpenAIModel,
		Timeout: opts.Timeout,
		Client:  opts.Client,
	}))
	r.Alias("gpt-4o", "openai")
	r.Register(NewGeminiCollaborator(GeminiConfig{
		ID:      "gemini-pro",
		Name:    "Gemini 2.5 Pro",
		BaseURL: opts.GeminiURL,
		APIKey:  opts.GeminiKey,
		Model:   "gemini-2.5-pro",
		Timeout: opts.Timeout,
		Client:  opts.Client,
	}))
	r.Register(NewGeminiCollaborator(GeminiConfig{
		ID:      "gemini-flash",
		Name:    "Gemini 2.5 Flash",
		BaseURL: opts.GeminiURL,
		APIKey:  opts.GeminiKey,
		Model:   "gemini-2.5-flash",
		Timeout: opts.Timeout,
		Client:  opts.Client,
	}))

	return r
}
