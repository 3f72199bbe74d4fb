package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/logging"
)

// ErrNoProvider is reported when no registered provider can serve a request.
// It is an expected routing outcome, not a crash.
var ErrNoProvider = errors.New("no available provider")

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// HealthCheckInterval is the period of the background health sweep.
	HealthCheckInterval time.Duration
	// ProbeTimeout bounds each individual health probe.
	ProbeTimeout time.Duration
	// Logger receives service lifecycle and routing logs.
	Logger logging.Logger
}

// Service is the single entry point hiding provider choice. It owns the model
// registry and the background health sweep. All methods are safe for
// concurrent use; providers may be registered and unregistered while
// Generate calls are in flight.
type Service struct {
	mu        sync.RWMutex
	providers map[string]Provider
	healthy   map[string]bool

	registry *Registry

	interval     time.Duration
	probeTimeout time.Duration
	logger       logging.Logger

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewService constructs a Service with optional overrides.
func NewService(optFns ...func(o *ServiceOptions)) *Service {
	opts := ServiceOptions{
		HealthCheckInterval: 60 * time.Second,
		ProbeTimeout:        5 * time.Second,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{
		providers:    make(map[string]Provider),
		healthy:      make(map[string]bool),
		registry:     NewRegistry(),
		interval:     opts.HealthCheckInterval,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
	}
}

// Registry exposes the aggregated model catalog for read-only queries.
func (s *Service) Registry() *Registry { return s.registry }

// RegisterProvider adds a provider under the given name and snapshots its
// catalog. Safe at any time; no ordering dependency with other calls.
func (s *Service) RegisterProvider(name string, p Provider) {
	s.mu.Lock()
	s.providers[name] = p
	s.healthy[name] = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout)
	defer cancel()
	s.registry.Update(name, p.ListModels(ctx))
	s.logger.Info("provider registered", "provider", name)
}

// UnregisterProvider removes a provider and its catalog snapshot.
func (s *Service) UnregisterProvider(name string) {
	s.mu.Lock()
	_, existed := s.providers[name]
	delete(s.providers, name)
	delete(s.healthy, name)
	s.mu.Unlock()

	if existed {
		s.registry.Remove(name)
		s.logger.Info("provider unregistered", "provider", name)
	}
}

// Provider returns a registered provider by name.
func (s *Service) Provider(name string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[name]
	return p, ok
}

// Generate routes the request to the right provider: an explicit model name
// is looked up across providers, otherwise the available model with the
// highest performance score wins. Routing failure is returned as an
// error-bearing response.
func (s *Service) Generate(ctx context.Context, req GenerationRequest) GenerationResponse {
	start := time.Now()
	provider, resolved, err := s.route(req)
	if err != nil {
		s.logger.Warn("generation routing failed", "model", req.ModelName, "error", err)
		return ErrorResponse(req.ModelName, time.Since(start), err)
	}
	req.ModelName = resolved
	resp := provider.Generate(ctx, req)
	s.logger.Debug("generation completed", "model", resp.ModelName, "finish_reason", resp.FinishReason, "elapsed", resp.Elapsed)
	return resp
}

// GenerateStream applies the same selection logic as Generate and delegates
// to the chosen provider. Routing failures are delivered on the error channel.
func (s *Service) GenerateStream(ctx context.Context, req GenerationRequest) (<-chan string, <-chan error) {
	provider, resolved, err := s.route(req)
	if err != nil {
		fragments := make(chan string)
		errCh := make(chan error, 1)
		errCh <- err
		close(fragments)
		close(errCh)
		return fragments, errCh
	}
	req.ModelName = resolved
	req.Config.Stream = true
	return provider.GenerateStream(ctx, req)
}

// route picks the provider and physical model for a request.
func (s *Service) route(req GenerationRequest) (Provider, string, error) {
	if req.ModelName != "" {
		_, providerName, ok := s.registry.Find(req.ModelName)
		if !ok {
			// The logical name may still resolve through provider aliases;
			// fall back to asking each provider directly.
			s.mu.RLock()
			for _, p := range s.providers {
				if _, ok := p.ModelInfo(req.ModelName); ok {
					s.mu.RUnlock()
					return p, req.ModelName, nil
				}
			}
			s.mu.RUnlock()
			return nil, "", fmt.Errorf("%w: no provider serves model %q", ErrNoProvider, req.ModelName)
		}
		p, ok := s.Provider(providerName)
		if !ok {
			return nil, "", fmt.Errorf("%w: provider %q gone", ErrNoProvider, providerName)
		}
		return p, req.ModelName, nil
	}

	best, providerName, ok := s.registry.BestAvailable()
	if !ok {
		return nil, "", ErrNoProvider
	}
	p, ok := s.Provider(providerName)
	if !ok {
		return nil, "", fmt.Errorf("%w: provider %q gone", ErrNoProvider, providerName)
	}
	return p, best.Name, nil
}

// ListAllModels returns the catalog union across every registered provider.
func (s *Service) ListAllModels() []ModelInfo { return s.registry.All() }

// GetModelInfo looks up a model by name across providers.
func (s *Service) GetModelInfo(name string) (ModelInfo, bool) {
	m, _, ok := s.registry.Find(name)
	return m, ok
}

// ProviderStatus summarizes one provider's health and catalog.
type ProviderStatus struct {
	Healthy         bool     `json:"healthy"`
	TotalModels     int      `json:"total_models"`
	AvailableModels int      `json:"available_models"`
	Models          []string `json:"models,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// ServiceStatus aggregates provider health into one view.
type ServiceStatus struct {
	Providers       map[string]ProviderStatus `json:"providers"`
	TotalModels     int                       `json:"total_models"`
	AvailableModels int                       `json:"available_models"`
	ServiceHealthy  bool                      `json:"service_healthy"`
}

// Status probes every provider and reports per-provider health plus model
// counts. A degraded provider shows up unhealthy without affecting others.
func (s *Service) Status(ctx context.Context) ServiceStatus {
	s.mu.RLock()
	providers := make(map[string]Provider, len(s.providers))
	for name, p := range s.providers {
		providers[name] = p
	}
	s.mu.RUnlock()

	status := ServiceStatus{
		Providers:      make(map[string]ProviderStatus, len(providers)),
		ServiceHealthy: true,
	}
	for name, p := range providers {
		healthy, probeErr := s.probe(ctx, name, p)
		ps := ProviderStatus{Healthy: healthy}
		if probeErr != nil {
			ps.Error = probeErr.Error()
		}
		models := p.ListModels(ctx)
		ps.TotalModels = len(models)
		for _, m := range models {
			if m.Available {
				ps.AvailableModels++
				ps.Models = append(ps.Models, m.Name)
			}
		}
		status.TotalModels += ps.TotalModels
		status.AvailableModels += ps.AvailableModels
		if !healthy {
			status.ServiceHealthy = false
		}
		status.Providers[name] = ps
	}
	return status
}

// Start launches the background health sweep. It returns an error if the
// service is already running. The loop never blocks Generate calls and stops
// when Stop is called or the supplied context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return errors.New("service already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.healthLoop(ctx)
	s.logger.Info("generation service started", "health_check_interval", s.interval)
	return nil
}

// Stop cancels the health sweep and waits for it to exit. Safe to call
// multiple times.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
	s.logger.Info("generation service stopped")
}

func (s *Service) healthLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep probes each provider once. Failures are logged and recorded; a dead
// provider's catalog is marked unavailable so routing skips it until a later
// sweep succeeds.
func (s *Service) sweep(ctx context.Context) {
	s.mu.RLock()
	providers := make(map[string]Provider, len(s.providers))
	for name, p := range s.providers {
		providers[name] = p
	}
	s.mu.RUnlock()

	for name, p := range providers {
		start := time.Now()
		healthy, probeErr := s.probe(ctx, name, p)
		s.mu.Lock()
		s.healthy[name] = healthy
		s.mu.Unlock()
		if healthy {
			s.registry.Update(name, p.ListModels(ctx))
			s.logger.Debug("health check passed", "provider", name, "elapsed", time.Since(start))
			continue
		}
		s.registry.MarkUnavailable(name)
		s.logger.Warn("health check failed", "provider", name, "elapsed", time.Since(start), "error", probeErr)
	}
}

// probe runs one health check with a bounded timeout. A panicking provider is
// contained and reported unhealthy instead of killing the sweep.
func (s *Service) probe(ctx context.Context, name string, p Provider) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
			err = fmt.Errorf("health probe panicked: %v", r)
			s.logger.Error("provider health probe panicked", "provider", name, "panic", r)
		}
	}()
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return p.IsHealthy(probeCtx), nil
}
