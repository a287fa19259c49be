// Package orchestrator resolves one question end to end: conversational
// bypass, semantic cache, reasoning loop and cache write-back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"agentrag/src/core/agent"
	"agentrag/src/core/provenance"
	"agentrag/src/core/semanticcache"
	"agentrag/src/core/tools"
	"agentrag/src/log"
)

const FailureAnswer = "Désolé, je n'ai pas pu produire de réponse pour le moment. Veuillez réessayer plus tard."

var (
	ErrInvalidInput = errors.New("question must not be empty")
	// ErrNoAnswer wraps the cause when the pipeline failed for one query.
	ErrNoAnswer = errors.New("no answer could be produced")
)

type Request struct {
	Question    string       `json:"question"`
	ChatHistory []agent.Turn `json:"chat_history"`
	FastMode    bool         `json:"fast_mode"`
}

type Response struct {
	Question       string              `json:"question"`
	Answer         string              `json:"answer"`
	CacheHit       bool                `json:"cache_hit"`
	Similarity     float64             `json:"similarity,omitempty"`
	ProcessingTime float64             `json:"processing_time"`
	ToolTrace      []agent.Step        `json:"tool_trace"`
	Sources        []provenance.Source `json:"sources"`
	TraceID        string              `json:"trace_id"`
	ModelUsed      string              `json:"model_used,omitempty"`
	ChatHistory    []agent.Turn        `json:"chat_history"`
	// Failed is set when Answer is the generic failure message.
	Failed bool `json:"failed,omitempty"`
}

type Cache interface {
	Lookup(ctx context.Context, q semanticcache.Query) (*semanticcache.Entry, float64, error)
	Store(ctx context.Context, q semanticcache.Query, answer string, trace []provenance.Invocation, sources []provenance.Source) (*semanticcache.Entry, error)
}

type Reasoner interface {
	Run(ctx context.Context, question string, history []agent.Turn) (*agent.Outcome, error)
}

type Config struct {
	ModelName string
	Namespace string
	// SkipTimeSensitive keeps answers to time-sensitive questions out of the cache.
	SkipTimeSensitive bool
}

type Orchestrator struct {
	cache    Cache
	reasoner Reasoner
	cfg      Config
	now      func() time.Time
	logger   logr.Logger
}

// New builds an orchestrator. A nil cache disables caching.
func New(cache Cache, reasoner Reasoner, cfg Config) *Orchestrator {
	if cfg.Namespace == "" {
		cfg.Namespace = semanticcache.DefaultNamespace
	}
	return &Orchestrator{
		cache:    cache,
		reasoner: reasoner,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithName("orchestrator"),
	}
}

// Resolve answers req. It fails with ErrInvalidInput for an empty question
// and with the context error when the caller cancelled. Any other failure
// still returns a Response carrying FailureAnswer, along with an error
// wrapping ErrNoAnswer.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (*Response, error) {
	start := o.now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	resp := &Response{
		Question:  question,
		TraceID:   uuid.NewString(),
		ToolTrace: []agent.Step{},
	}
	logger := o.logger.WithValues("trace_id", resp.TraceID)
	finish := func(outcome string) *Response {
		elapsed := o.now().Sub(start)
		resp.ProcessingTime = elapsed.Seconds()
		resp.ChatHistory = extendHistory(req.ChatHistory, question, resp.Answer)
		queryDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
		logger.Info("question resolved", "outcome", outcome, "elapsed", elapsed)
		return resp
	}

	if IsConversational(question) {
		resp.Answer = GreetingAnswer
		return finish("greeting"), nil
	}

	query := semanticcache.Query{
		Question:  question,
		PriorTurn: priorUserTurn(req.ChatHistory),
		Namespace: o.cfg.Namespace,
	}

	if o.cache != nil {
		entry, sim, err := o.cache.Lookup(ctx, query)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Error(err, "cache lookup failed, continuing without cache")
		case entry != nil:
			resp.Answer = entry.Answer
			resp.CacheHit = true
			resp.Similarity = sim
			resp.Sources = entry.Sources
			return finish("hit"), nil
		}
	}

	if req.FastMode {
		ctx = tools.WithFastMode(ctx, true)
	}
	outcome, err := o.reasoner.Run(ctx, question, req.ChatHistory)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("query cancelled", "reason", ctxErr.Error())
			return nil, ctxErr
		}
		logger.Error(err, "reasoning failed")
		resp.Answer = FailureAnswer
		resp.Failed = true
		return finish("failed"), fmt.Errorf("%w: %w", ErrNoAnswer, err)
	}

	resp.Answer = outcome.Answer
	if outcome.Steps != nil {
		resp.ToolTrace = outcome.Steps
	}
	resp.Sources = dedupeSources(outcome.Sources)
	resp.ModelUsed = o.cfg.ModelName

	o.writeBack(ctx, logger, query, resp)
	return finish("miss"), nil
}

func (o *Orchestrator) writeBack(ctx context.Context, logger logr.Logger, q semanticcache.Query, resp *Response) {
	if o.cache == nil || ctx.Err() != nil {
		return
	}
	if o.cfg.SkipTimeSensitive && IsTimeSensitive(q.Question) {
		logger.V(1).Info("time-sensitive question, not cached")
		return
	}
	if _, err := o.cache.Store(ctx, q, resp.Answer, agent.Invocations(resp.ToolTrace), resp.Sources); err != nil {
		logger.Error(err, "failed to cache answer")
	}
}

func priorUserTurn(history []agent.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if strings.EqualFold(history[i].Role, "user") {
			return history[i].Content
		}
	}
	return ""
}

func extendHistory(history []agent.Turn, question, answer string) []agent.Turn {
	out := make([]agent.Turn, 0, len(history)+2)
	out = append(out, history...)
	return append(out,
		agent.Turn{Role: "user", Content: question},
		agent.Turn{Role: "assistant", Content: answer},
	)
}

func dedupeSources(sources []provenance.Source) []provenance.Source {
	seen := make(map[string]bool, len(sources))
	out := make([]provenance.Source, 0, len(sources))
	for _, s := range sources {
		key := s.DocumentID + "|" + s.URL + "|" + s.Title
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
