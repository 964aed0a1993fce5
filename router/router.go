// Package router presents one uniform generate/stream/embed surface over N
// configured providers with policy-driven selection and automatic fallback.
// Providers are registered at construction only when their configuration is
// present; liveness probes run concurrently and are cached for a fixed TTL so
// selection never hammers backends on every request.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hupe1980/agentrelay/internal/tokenutil"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
)

// Criteria selects the preference ranking used when no model pins the
// provider choice.
type Criteria string

// Selection criteria.
const (
	CriteriaCost       Criteria = "cost"
	CriteriaSpeed      Criteria = "speed"
	CriteriaQuality    Criteria = "quality"
	CriteriaCapability Criteria = "capability"
)

// availabilityTTL bounds how long a liveness probe result is trusted.
const availabilityTTL = 5 * time.Minute

// ErrNoProvider is returned when selection finds no available provider.
// Callers must treat this as fatal for the request.
var ErrNoProvider = errors.New("router: no provider available")

// rankings are fixed, hand-ordered preference lists per criterion. Only
// currently-available providers are considered; order among the available
// subset is preserved.
var rankings = map[Criteria][]string{
	CriteriaQuality:    {"anthropic", "openai", "google", "openrouter", "groq", "ollama"},
	CriteriaCost:       {"ollama", "groq", "google", "openrouter", "openai", "anthropic"},
	CriteriaSpeed:      {"groq", "ollama", "openai", "google", "openrouter", "anthropic"},
	CriteriaCapability: {"openai", "anthropic", "google", "openrouter", "groq", "ollama"},
}

// codingRanking overrides quality selection when the request looks like a
// coding task (prompt or requested tool name mentions "code").
var codingRanking = []string{"anthropic", "openrouter", "openai", "google", "groq", "ollama"}

// fallbackChains are per-provider default orderings walked after the primary
// choice fails.
var fallbackChains = map[string][]string{
	"openai":     {"anthropic", "google", "groq", "openrouter", "ollama"},
	"anthropic":  {"openai", "google", "groq", "openrouter", "ollama"},
	"google":     {"openai", "anthropic", "groq", "openrouter", "ollama"},
	"groq":       {"openai", "anthropic", "google", "openrouter", "ollama"},
	"openrouter": {"openai", "anthropic", "google", "groq", "ollama"},
	"ollama":     {"openai", "anthropic", "google", "groq", "openrouter"},
}

// modelPrefixes maps model id prefixes to the provider that serves them,
// letting an explicit model unambiguously pin the provider.
var modelPrefixes = map[string]string{
	"gpt-":        "openai",
	"o1":          "openai",
	"o3":          "openai",
	"claude-":     "anthropic",
	"gemini-":     "google",
	"llama":       "groq",
	"mixtral":     "groq",
	"openrouter/": "openrouter",
	"ollama/":     "ollama",
}

// GenerateOptions tune one Generate/Stream call.
type GenerateOptions struct {
	// Criteria used for selection when the model does not pin a provider.
	// Empty means quality.
	Criteria Criteria
	// Preferred names the provider to try first when the model does not pin
	// one; ignored when unregistered or unavailable.
	Preferred string
	// Fallback overrides the per-provider default fallback chain.
	Fallback []string
}

// Router holds the configured provider set. The registry is read-only after
// construction; the availability cache is the only time-bounded mutable
// state and a benign race on simultaneous recomputes is acceptable.
type Router struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
	order     []string // registration order, for stable iteration
	avail     *expirable.LRU[string, bool]
	logger    logging.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithLogger attaches a logger; every attempt and outcome is observable
// through it.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router over the given providers. A provider appears in the
// registry iff it was constructed by the caller, mirroring the rule that
// absent configuration simply omits the provider rather than erroring.
func New(providers []provider.Provider, opts ...Option) *Router {
	r := &Router{
		providers: make(map[string]provider.Provider, len(providers)),
		avail:     expirable.NewLRU[string, bool](32, nil, availabilityTTL),
		logger:    logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(r)
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.providers[p.Name()]; !dup {
			r.order = append(r.order, p.Name())
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a registered provider by name.
func (r *Router) Get(name string) (provider.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// CheckAvailability probes every registered provider concurrently and
// returns the name-to-liveness map. Results are cached for five minutes.
func (r *Router) CheckAvailability(ctx context.Context) map[string]bool {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	out := make(map[string]bool, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		if alive, ok := r.avail.Get(name); ok {
			out[name] = alive
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p, _ := r.Get(name)
			alive := p.Available(ctx)
			r.avail.Add(name, alive)
			mu.Lock()
			out[name] = alive
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

// available reports cached liveness for one provider, probing on miss.
func (r *Router) available(ctx context.Context, name string) bool {
	if alive, ok := r.avail.Get(name); ok {
		return alive
	}
	p, ok := r.Get(name)
	if !ok {
		return false
	}
	alive := p.Available(ctx)
	r.avail.Add(name, alive)
	return alive
}

// InvalidateAvailability drops the cached probe results, forcing fresh
// probes on the next selection.
func (r *Router) InvalidateAvailability() {
	r.avail.Purge()
}

// Select picks a provider for the request by criterion over the currently
// available providers. Deterministic: fixed availability and criterion yield
// the same choice on every call. Returns ErrNoProvider when nothing is
// available.
func (r *Router) Select(ctx context.Context, req *provider.Request, criteria Criteria) (provider.Provider, error) {
	if criteria == "" {
		criteria = CriteriaQuality
	}
	ranking, ok := rankings[criteria]
	if !ok {
		return nil, fmt.Errorf("router: unknown criteria %q", criteria)
	}
	if criteria == CriteriaQuality && looksLikeCoding(req) {
		ranking = codingRanking
	}
	for _, name := range ranking {
		if _, registered := r.Get(name); !registered {
			continue
		}
		if r.available(ctx, name) {
			p, _ := r.Get(name)
			return p, nil
		}
	}
	// Registered providers outside the ranking table still count.
	for _, name := range r.Providers() {
		if !inRanking(ranking, name) && r.available(ctx, name) {
			p, _ := r.Get(name)
			return p, nil
		}
	}
	return nil, ErrNoProvider
}

// ProviderForModel resolves the provider a model id unambiguously names, if
// any, by prefix convention.
func (r *Router) ProviderForModel(model string) (provider.Provider, bool) {
	if model == "" {
		return nil, false
	}
	for prefix, name := range modelPrefixes {
		if strings.HasPrefix(model, prefix) {
			if p, ok := r.Get(name); ok {
				return p, true
			}
		}
	}
	return nil, false
}

// Generate routes one completion with automatic fallback. The primary is the
// provider pinned by the model id when recognizable, otherwise the selection
// winner. On failure the fallback chain (caller-supplied or the primary's
// default) is walked in order; the first success short-circuits. Exhaustion
// returns an aggregate error naming the last failure. No request is silently
// dropped: every attempt is logged.
func (r *Router) Generate(ctx context.Context, req *provider.Request, opts GenerateOptions) (*provider.Response, error) {
	chain, err := r.attemptChain(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range chain {
		resp, genErr := safeGenerate(ctx, p, req)
		r.logger.Info("provider attempt",
			"provider", p.Name(), "model", req.Model, "success", genErr == nil)
		if genErr == nil {
			return resp, nil
		}
		lastErr = fmt.Errorf("provider %s: %w", p.Name(), genErr)
		r.logger.Warn("provider attempt failed", "provider", p.Name(), "error", genErr.Error())
	}
	return nil, fmt.Errorf("router: all %d providers failed, last: %w", len(chain), lastErr)
}

// Stream routes one streaming completion using the same selection and
// fallback rules as Generate; fallback applies only to stream initiation.
func (r *Router) Stream(ctx context.Context, req *provider.Request, opts GenerateOptions) (<-chan provider.Chunk, error) {
	chain, err := r.attemptChain(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, p := range chain {
		ch, streamErr := p.Stream(ctx, req)
		r.logger.Info("provider stream attempt",
			"provider", p.Name(), "model", req.Model, "success", streamErr == nil)
		if streamErr == nil {
			return ch, nil
		}
		lastErr = fmt.Errorf("provider %s: %w", p.Name(), streamErr)
	}
	return nil, fmt.Errorf("router: all %d providers failed, last: %w", len(chain), lastErr)
}

// Embed routes to the first available provider that supports embeddings.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, name := range r.Providers() {
		if !r.available(ctx, name) {
			continue
		}
		p, _ := r.Get(name)
		vec, err := p.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("router: embed failed: %w", lastErr)
	}
	return nil, ErrNoProvider
}

// EstimateCost returns the cost of a usage record against a provider's price
// table. Pure lookup, no network.
func (r *Router) EstimateCost(providerName, model string, usage provider.TokenUsage) (float64, error) {
	p, ok := r.Get(providerName)
	if !ok {
		return 0, fmt.Errorf("router: unknown provider %q", providerName)
	}
	return p.Cost(model, usage), nil
}

// EstimateCostForText estimates the prompt-side cost of raw text via token
// counting.
func (r *Router) EstimateCostForText(providerName, model, text string) (float64, error) {
	n := tokenutil.Count(text)
	return r.EstimateCost(providerName, model, provider.TokenUsage{PromptTokens: n, TotalTokens: n})
}

// attemptChain builds the ordered provider list for one request: primary
// first, then the deduplicated fallback chain, skipping unavailable
// providers.
func (r *Router) attemptChain(ctx context.Context, req *provider.Request, opts GenerateOptions) ([]provider.Provider, error) {
	var primary provider.Provider
	if p, ok := r.ProviderForModel(req.Model); ok {
		primary = p
	} else if p, ok := r.Get(opts.Preferred); ok && r.available(ctx, opts.Preferred) {
		primary = p
	} else {
		p, err := r.Select(ctx, req, opts.Criteria)
		if err != nil {
			return nil, err
		}
		primary = p
	}

	names := opts.Fallback
	if names == nil {
		names = fallbackChains[primary.Name()]
	}

	chain := []provider.Provider{primary}
	seen := map[string]bool{primary.Name(): true}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := r.Get(name)
		if !ok || !r.available(ctx, name) {
			continue
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// safeGenerate contains a provider panic to an error so one misbehaving
// adapter cannot crash the hosting process.
func safeGenerate(ctx context.Context, p provider.Provider, req *provider.Request) (resp *provider.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	return p.Generate(ctx, req)
}

// looksLikeCoding reports whether the request is a coding task: the prompt
// text or any requested tool name contains "code".
func looksLikeCoding(req *provider.Request) bool {
	for _, t := range req.Tools {
		if strings.Contains(strings.ToLower(t.Name), "code") {
			return true
		}
	}
	for _, m := range req.Messages {
		if strings.Contains(strings.ToLower(m.Content), "code") {
			return true
		}
	}
	return false
}

func inRanking(ranking []string, name string) bool {
	for _, r := range ranking {
		if r == name {
			return true
		}
	}
	return false
}
