// Package tools exposes the capabilities the reasoning loop can call. Every
// tool shares one contract: text in, text plus structured sources out.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"

	"agentrag/src/core/provenance"
	"agentrag/src/log"
)

const (
	KnowledgeToolName = "search_vector_database"
	WebToolName       = "search_web"

	DefaultTimeout = 20 * time.Second
	probeTimeout   = 2 * time.Second
)

var (
	ErrToolTimeout = errors.New("tool call timed out")
	ErrUnknownTool = errors.New("unknown tool")
)

// Result is what a tool hands back to the reasoning loop.
type Result struct {
	Output  string
	Sources []provenance.Source
}

type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (Result, error)
}

// ReadinessChecker is implemented by tools whose backend can be probed
// before the model is offered the tool.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Failure is the structured error returned for any unsuccessful tool call.
type Failure struct {
	Tool string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("tool %s: %v", f.Tool, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Registry holds the tools offered to the model and time-boxes every call.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  logr.Logger
}

func NewRegistry(timeout time.Duration, tools ...Tool) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		timeout: timeout,
		logger:  log.WithName("tools"),
	}
	for _, t := range tools {
		if _, dup := r.tools[t.Name()]; !dup {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
	return r
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Available returns the registered tools whose backend answers a readiness
// probe. Tools without a probe are always available.
func (r *Registry) Available(ctx context.Context) []Tool {
	all := r.Tools()
	ready := make([]bool, len(all))

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, t := range all {
		rc, ok := t.(ReadinessChecker)
		if !ok {
			ready[i] = true
			continue
		}
		wg.Add(1)
		go func(i int, name string, rc ReadinessChecker) {
			defer wg.Done()
			if err := rc.Ready(ctx); err != nil {
				r.logger.Error(err, "tool not ready, hiding it from the model", "tool", name)
				return
			}
			ready[i] = true
		}(i, t.Name(), rc)
	}
	wg.Wait()

	out := make([]Tool, 0, len(all))
	for i, t := range all {
		if ready[i] {
			out = append(out, t)
		}
	}
	return out
}

type outcome struct {
	result Result
	err    error
}

// Invoke runs the named tool under the per-call timeout. A tool that ignores
// its context is abandoned once the deadline passes. Panics are reported as
// failures.
func (r *Registry) Invoke(ctx context.Context, name, input string) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		toolInvocations.WithLabelValues(name, "unknown").Inc()
		return Result{}, &Failure{Tool: name, Err: ErrUnknownTool}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := t.Invoke(callCtx, input)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		switch {
		case ctx.Err() != nil:
			out.err = ctx.Err()
			toolInvocations.WithLabelValues(name, "cancelled").Inc()
		case errors.Is(out.err, context.DeadlineExceeded):
			out.err = fmt.Errorf("%w after %s", ErrToolTimeout, r.timeout)
			toolInvocations.WithLabelValues(name, "timeout").Inc()
		default:
			toolInvocations.WithLabelValues(name, "error").Inc()
		}
		r.logger.Error(out.err, "tool call failed", "tool", name, "elapsed", time.Since(start))
		return Result{}, &Failure{Tool: name, Err: out.err}
	}

	toolInvocations.WithLabelValues(name, "ok").Inc()
	out.result.Output = strings.ToValidUTF8(out.result.Output, "")
	r.logger.V(1).Info("tool call finished", "tool", name, "elapsed", time.Since(start), "sources", len(out.result.Sources))
	return out.result, nil
}

type fastModeKey struct{}

// WithFastMode marks the request so knowledge search skips reranking.
func WithFastMode(ctx context.Context, fast bool) context.Context {
	return context.WithValue(ctx, fastModeKey{}, fast)
}

func FastMode(ctx context.Context) bool {
	fast, _ := ctx.Value(fastModeKey{}).(bool)
	return fast
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
