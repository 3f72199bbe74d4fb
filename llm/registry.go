package llm

import "sync"

// Registry aggregates ModelInfo snapshots across providers and answers
// capability and availability queries for request routing. It is read-mostly
// and safe for concurrent use: the health sweep refreshes snapshots while
// Generate calls read them.
type Registry struct {
	mu     sync.RWMutex
	models map[string][]ModelInfo // provider name -> catalog snapshot
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string][]ModelInfo)}
}

// Update replaces the catalog snapshot for a provider.
func (r *Registry) Update(provider string, models []ModelInfo) {
	snapshot := make([]ModelInfo, len(models))
	copy(snapshot, models)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[provider] = snapshot
}

// Remove drops a provider's snapshot entirely.
func (r *Registry) Remove(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, provider)
}

// MarkUnavailable flags every model of a provider as unavailable. Called by
// the health sweep when a probe fails so stale availability never routes a
// request to a dead backend.
func (r *Registry) MarkUnavailable(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.models[provider]
	for i := range snapshot {
		snapshot[i].Available = false
	}
}

// All returns every known model across providers.
func (r *Registry) All() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModelInfo
	for _, models := range r.models {
		out = append(out, models...)
	}
	return out
}

// Find locates a model by exact name, returning its info and owning provider.
func (r *Registry) Find(name string) (ModelInfo, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for provider, models := range r.models {
		for _, m := range models {
			if m.Name == name {
				return m, provider, true
			}
		}
	}
	return ModelInfo{}, "", false
}

// ByCapability returns all available models advertising the capability.
func (r *Registry) ByCapability(c Capability) []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ModelInfo
	for _, models := range r.models {
		for _, m := range models {
			if m.Available && m.HasCapability(c) {
				out = append(out, m)
			}
		}
	}
	return out
}

// BestAvailable selects the available non-embedding model with the highest
// performance score across all providers. The second return value names the
// owning provider.
func (r *Registry) BestAvailable() (ModelInfo, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best         ModelInfo
		bestProvider string
		found        bool
	)
	for provider, models := range r.models {
		for _, m := range models {
			if !m.Available || m.Type == ModelTypeEmbedding {
				continue
			}
			if !found || m.PerformanceScore > best.PerformanceScore {
				best = m
				bestProvider = provider
				found = true
			}
		}
	}
	return best, bestProvider, found
}
