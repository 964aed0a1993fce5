package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Responses are scripted: each Generate call pops the next queued
// reply (the last reply repeats once the queue is exhausted). Failures and
// unavailability can be toggled to exercise fallback paths.
type MockProvider struct {
	mu        sync.Mutex
	name      string
	replies   []string
	idx       int
	failWith  error
	offline   bool
	calls     int
	embedding []float32
}

// NewMockProvider constructs a MockProvider with the given registry name.
func NewMockProvider(name string, replies ...string) *MockProvider {
	return &MockProvider{name: name, replies: replies, embedding: []float32{0.1, 0.2, 0.3}}
}

// FailWith makes every subsequent call return err.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SetOffline toggles the Available probe result.
func (m *MockProvider) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Calls returns how many Generate calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.name }

// Generate implements Provider; pops the next scripted reply.
func (m *MockProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	content := fmt.Sprintf("mock reply from %s", m.name)
	if len(m.replies) > 0 {
		if m.idx >= len(m.replies) {
			m.idx = len(m.replies) - 1
		}
		content = m.replies[m.idx]
		m.idx++
	}
	usage := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	return &Response{
		Content:      content,
		Usage:        usage,
		Cost:         m.Cost(req.Model, usage),
		Latency:      time.Millisecond,
		FinishReason: "stop",
		Model:        req.Model,
		Provider:     m.name,
	}, nil
}

// Stream implements Provider; emits the scripted reply rune by rune.
func (m *MockProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	resp, err := m.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		for _, r := range resp.Content {
			select {
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			case out <- Chunk{Delta: string(r)}:
			}
		}
		out <- Chunk{FinishReason: "stop"}
	}()
	return out, nil
}

// Embed implements Provider with a fixed vector.
func (m *MockProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.embedding, nil
}

// Cost implements Provider with a flat nominal rate.
func (m *MockProvider) Cost(_ string, usage TokenUsage) float64 {
	return float64(usage.TotalTokens) / 1e6
}

// Available implements Provider.
func (m *MockProvider) Available(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.offline
}
