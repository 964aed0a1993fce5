// Package memory implements the tiered conversation store backing one agent:
// a bounded short-term ring of recent turns, an append-only long-term
// knowledge store with keyword search, and a flat entity-relation graph.
// Evicted short-term turns that look important are promoted to long-term
// storage; everything else ages out permanently. Full state is persisted
// best-effort to a cache collaborator after every mutation.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/cache"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/provider"
)

const (
	// DefaultMaxShortTerm caps the short-term message ring.
	DefaultMaxShortTerm = 50

	// persistTTL bounds how long serialized state lives in the cache.
	persistTTL = 24 * time.Hour

	// searchLimit caps SearchLongTerm hits.
	searchLimit = 5
)

// importanceKeywords mark an evicted message worth promoting to long-term
// storage. Matching is case-insensitive substring.
var importanceKeywords = []string{
	"remember", "decision", "plan", "important", "critical", "deadline", "goal",
}

// Entry is one long-term memory record. Content is never mutated; summaries
// are inserted as new entries.
type Entry struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  EntryMetadata  `json:"metadata"`
}

// EntryMetadata carries provenance and ranking data for an Entry.
type EntryMetadata struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Relevance float64   `json:"relevance"`
}

// Relation is one edge of the entity graph: source --relation--> target with
// a confidence in [0,1]. Duplicates are allowed and simply accumulate
// evidence.
type Relation struct {
	Source     string  `json:"source"`
	Relation   string  `json:"relation"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// Embedder optionally fills Entry embeddings on store. The router satisfies
// this; a nil embedder simply leaves vectors empty.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// state is the serialized snapshot persisted to the cache.
type state struct {
	ShortTerm   []provider.Message `json:"short_term"`
	LongTerm    []Entry            `json:"long_term"`
	EntityGraph []Relation         `json:"entity_graph"`
}

// Manager maintains the tiered stores for a single agent id. State is
// scoped per agent and never shared across agents, so one mutex guarding the
// three stores is the only locking involved.
type Manager struct {
	mu           sync.Mutex
	agentID      string
	maxShortTerm int
	cache        cache.Cache
	embedder     Embedder
	logger       logging.Logger

	shortTerm   []provider.Message
	longTerm    []Entry
	entityGraph []Relation
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMaxShortTerm overrides the short-term ring capacity.
func WithMaxShortTerm(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxShortTerm = n
		}
	}
}

// WithEmbedder attaches an embedder used to vectorize long-term entries.
func WithEmbedder(e Embedder) Option {
	return func(m *Manager) { m.embedder = e }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager scoped to one agent id, persisting through c.
func NewManager(agentID string, c cache.Cache, opts ...Option) *Manager {
	m := &Manager{
		agentID:      agentID,
		maxShortTerm: DefaultMaxShortTerm,
		cache:        c,
		logger:       logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) cacheKey() string { return "memory:" + m.agentID }

// Load restores previously persisted state, if any. Call once at agent
// startup; a cache miss leaves the manager empty without error.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return nil
	}
	raw, ok, err := m.cache.Get(ctx, m.cacheKey())
	if err != nil {
		return fmt.Errorf("memory load: %w", err)
	}
	if !ok {
		return nil
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("memory load: corrupt state: %w", err)
	}
	m.shortTerm = st.ShortTerm
	m.longTerm = st.LongTerm
	m.entityGraph = st.EntityGraph
	return nil
}

// persist serializes the full state to the cache. Best-effort: failures are
// logged, not returned, since durability here is advisory.
func (m *Manager) persist(ctx context.Context) {
	if m.cache == nil {
		return
	}
	raw, err := json.Marshal(state{
		ShortTerm:   m.shortTerm,
		LongTerm:    m.longTerm,
		EntityGraph: m.entityGraph,
	})
	if err != nil {
		m.logger.Warn("memory persist: marshal failed", "agent_id", m.agentID, "error", err)
		return
	}
	if err := m.cache.Set(ctx, m.cacheKey(), raw, persistTTL); err != nil {
		m.logger.Warn("memory persist: cache write failed", "agent_id", m.agentID, "error", err)
	}
}

// AddMessage appends a message to the short-term ring. Appending past the
// cap evicts the oldest entry; if the evicted message contains an importance
// keyword it is copied to long-term storage first, otherwise it is gone for
// good. This lossy policy is deliberate.
func (m *Manager) AddMessage(ctx context.Context, msg provider.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = append(m.shortTerm, msg)
	for len(m.shortTerm) > m.maxShortTerm {
		evicted := m.shortTerm[0]
		m.shortTerm = m.shortTerm[1:]
		if isImportant(evicted.Content) {
			m.appendLongTerm(ctx, evicted.Content, "eviction", 0.8)
		}
	}
	m.persist(ctx)
}

// Recent returns up to n most recent short-term messages, oldest first.
func (m *Manager) Recent(n int) []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.shortTerm) {
		n = len(m.shortTerm)
	}
	out := make([]provider.Message, n)
	copy(out, m.shortTerm[len(m.shortTerm)-n:])
	return out
}

// ShortTermLen returns the current ring occupancy.
func (m *Manager) ShortTermLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shortTerm)
}

// LongTermLen returns the long-term entry count.
func (m *Manager) LongTermLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.longTerm)
}

// StoreLongTerm appends a long-term entry directly with the given relevance.
func (m *Manager) StoreLongTerm(ctx context.Context, content, source string, relevance float64) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.appendLongTerm(ctx, content, source, relevance)
	m.persist(ctx)
	return e
}

func (m *Manager) appendLongTerm(ctx context.Context, content, source string, relevance float64) Entry {
	e := Entry{
		ID:      util.NewID(),
		Content: content,
		Metadata: EntryMetadata{
			Source:    source,
			Timestamp: time.Now(),
			Relevance: relevance,
		},
	}
	if m.embedder != nil {
		if vec, err := m.embedder.Embed(ctx, content); err == nil {
			e.Embedding = vec
		} else {
			m.logger.Debug("memory embed failed", "agent_id", m.agentID, "error", err)
		}
	}
	m.longTerm = append(m.longTerm, e)
	return e
}

// SearchLongTerm performs case-insensitive substring matching over long-term
// content, ranked by stored relevance, returning at most five hits. Matching
// is lexical, not semantic.
func (m *Manager) SearchLongTerm(query string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var hits []Entry
	for _, e := range m.longTerm {
		if strings.Contains(strings.ToLower(e.Content), q) {
			hits = append(hits, e)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Metadata.Relevance > hits[j].Metadata.Relevance
	})
	if len(hits) > searchLimit {
		hits = hits[:searchLimit]
	}
	return hits
}

// AddRelation appends an edge to the entity graph. No uniqueness constraint:
// duplicate edges accumulate.
func (m *Manager) AddRelation(ctx context.Context, r Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	m.entityGraph = append(m.entityGraph, r)
	m.persist(ctx)
}

// RelatedEntities scans the graph linearly for edges touching entity.
func (m *Manager) RelatedEntities(entity string) []Relation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Relation
	for _, r := range m.entityGraph {
		if r.Source == entity || r.Target == entity {
			out = append(out, r)
		}
	}
	return out
}

// CompleteFunc produces a completion for a summarization prompt. The agent
// supplies one backed by the router so this package stays provider-agnostic.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// Summarize compresses the current short-term window into a single long-term
// summary entry using the supplied completion function. It is invoked
// explicitly by callers, never automatically.
func (m *Manager) Summarize(ctx context.Context, complete CompleteFunc) (Entry, error) {
	m.mu.Lock()
	if len(m.shortTerm) == 0 {
		m.mu.Unlock()
		return Entry{}, fmt.Errorf("summarize: no messages to summarize")
	}
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation, preserving decisions, plans and facts:\n\n")
	for _, msg := range m.shortTerm {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	m.mu.Unlock()

	summary, err := complete(ctx, sb.String())
	if err != nil {
		return Entry{}, fmt.Errorf("summarize: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.appendLongTerm(ctx, summary, "summary", 1.0)
	m.persist(ctx)
	return e, nil
}

// Snapshot returns a read-only projection of the manager state.
func (m *Manager) Snapshot() (shortTerm []provider.Message, longTerm []Entry, graph []Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shortTerm = make([]provider.Message, len(m.shortTerm))
	copy(shortTerm, m.shortTerm)
	longTerm = make([]Entry, len(m.longTerm))
	copy(longTerm, m.longTerm)
	graph = make([]Relation, len(m.entityGraph))
	copy(graph, m.entityGraph)
	return shortTerm, longTerm, graph
}

// Clear drops all state and removes the persisted snapshot.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortTerm = nil
	m.longTerm = nil
	m.entityGraph = nil
	if m.cache != nil {
		_ = m.cache.Delete(ctx, m.cacheKey())
	}
}

func isImportant(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
