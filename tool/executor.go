package tool

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/logging"
)

// DefaultTimeout bounds a single tool invocation when the caller does not
// supply one.
const DefaultTimeout = 30 * time.Second

// historySize caps the execution history ring.
const historySize = 100

// Result is the uniform outcome shape of every tool invocation. It is
// immutable once produced; the executor appends it to history and never
// edits it.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Call names one invocation for ExecuteSequence / ExecuteParallel.
type Call struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// HistoryEntry records one past invocation.
type HistoryEntry struct {
	Tool      string    `json:"tool"`
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecOptions tune a single Execute call.
type ExecOptions struct {
	// Timeout bounds the invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// Executor holds the name-to-tool registry and runs tools with isolation
// guarantees: every invocation is raced against a deadline and every outcome
// (success, failure, timeout, unknown tool) lands in a bounded history ring.
// The registry is read-mostly after startup; all methods are safe for
// concurrent use.
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	history []HistoryEntry
	logger  logging.Logger
}

// NewExecutor creates an empty executor. A nil logger is replaced by NoOp.
func NewExecutor(logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Executor{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool to the registry. Re-registering a name silently
// replaces the previous entry.
func (e *Executor) Register(t Tool) {
	e.mu.Lock()
	e.tools[t.Name()] = t
	e.mu.Unlock()
}

// Unregister removes a tool; removing an unknown name is a no-op.
func (e *Executor) Unregister(name string) {
	e.mu.Lock()
	delete(e.tools, name)
	e.mu.Unlock()
}

// Get returns the registered tool, if any.
func (e *Executor) Get(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Tools returns the registered tools in unspecified order.
func (e *Executor) Tools() []Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Tool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	return out
}

// Execute runs one tool by name. An unknown name yields a not-found Result
// rather than an error so the agent loop can reason about the failure as an
// observation. The invocation races against the timeout; when the deadline
// wins, the late result is discarded so the tool cannot mutate the Result
// after it was returned.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, opts ExecOptions) Result {
	start := time.Now()

	t, ok := e.Get(name)
	if !ok {
		res := Result{
			Success:  false,
			Error:    (&Error{Tool: name, Message: "tool not found", Code: "NOT_FOUND"}).Error(),
			Duration: time.Since(start),
		}
		e.record(name, res)
		return res
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := t.Call(callCtx, args)
		done <- outcome{data: data, err: err}
	}()

	var res Result
	select {
	case o := <-done:
		if o.err != nil {
			res = Result{Success: false, Error: o.err.Error(), Duration: time.Since(start)}
		} else {
			res = Result{Success: true, Data: o.data, Duration: time.Since(start)}
		}
	case <-callCtx.Done():
		code, msg := "TIMEOUT", "execution timed out"
		if ctx.Err() != nil {
			code, msg = "CANCELLED", "execution cancelled"
		}
		res = Result{
			Success:  false,
			Error:    (&Error{Tool: name, Message: msg, Code: code}).Error(),
			Duration: time.Since(start),
		}
	}

	e.logger.Debug("tool executed", "tool", name, "success", res.Success, "duration", res.Duration)
	e.record(name, res)
	return res
}

// ExecuteSequence runs calls one at a time, stopping at the first failure.
// The results returned cover only the calls actually attempted.
func (e *Executor) ExecuteSequence(ctx context.Context, calls []Call, opts ExecOptions) []Result {
	results := make([]Result, 0, len(calls))
	for _, c := range calls {
		res := e.Execute(ctx, c.Tool, c.Args, opts)
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return results
}

// ExecuteParallel runs every call concurrently and collects all results in
// input order regardless of individual failures.
func (e *Executor) ExecuteParallel(ctx context.Context, calls []Call, opts ExecOptions) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c Call) {
			defer wg.Done()
			results[i] = e.Execute(ctx, c.Tool, c.Args, opts)
		}(i, c)
	}
	wg.Wait()
	return results
}

// History returns a copy of the execution history, oldest first.
func (e *Executor) History() []HistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]HistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Executor) record(name string, res Result) {
	e.mu.Lock()
	e.history = append(e.history, HistoryEntry{Tool: name, Result: res, Timestamp: time.Now()})
	if len(e.history) > historySize {
		e.history = e.history[len(e.history)-historySize:]
	}
	e.mu.Unlock()
}
