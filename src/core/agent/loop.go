// Package agent runs the bounded think/act/observe loop that answers one
// conversation turn with the help of tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"agentrag/src/core/provenance"
	"agentrag/src/core/provider"
	"agentrag/src/core/tools"
	"agentrag/src/log"
)

const (
	DefaultMaxIterations    = 10
	DefaultMaxExecutionTime = 60 * time.Second

	NoResultsObservation = "Aucun résultat exploitable."
	noAnswerMessage      = "Je n'ai pas trouvé d'information suffisante pour répondre à cette question."
	fallbackLead         = "Voici ce que j'ai pu trouver :"
	fallbackExcerptLen   = 400
)

// StopReason tells how the loop reached FINISH.
type StopReason string

const (
	StopFinalAnswer   StopReason = "final_answer"
	StopMaxIterations StopReason = "max_iterations"
	StopMaxTime       StopReason = "max_execution_time"
	StopEmptyAnswer   StopReason = "empty_answer"
)

type Config struct {
	MaxIterations    int
	MaxExecutionTime time.Duration
	HistoryTurns     int
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:    DefaultMaxIterations,
		MaxExecutionTime: DefaultMaxExecutionTime,
		HistoryTurns:     DefaultHistoryTurns,
	}
}

// Outcome is the result of one run. Answer is never empty.
type Outcome struct {
	Answer  string
	Steps   []Step
	Sources []provenance.Source
	Stop    StopReason
}

type Loop struct {
	model    Model
	registry *tools.Registry
	cfg      Config
	now      func() time.Time
	logger   logr.Logger
}

type Option func(l *Loop)

func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

func NewLoop(model Model, registry *tools.Registry, cfg Config, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxExecutionTime <= 0 {
		cfg.MaxExecutionTime = def.MaxExecutionTime
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	l := &Loop{
		model:    model,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithName("agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run answers question. It returns an error only when the caller cancelled
// or the language model is unreachable; exhausted budgets still produce an
// answer from the observations gathered so far.
func (l *Loop) Run(ctx context.Context, question string, history []Turn) (*Outcome, error) {
	start := l.now()
	preamble := FormatHistory(history, l.cfg.HistoryTurns)

	specs := make([]ToolSpec, 0)
	for _, t := range l.registry.Available(ctx) {
		specs = append(specs, ToolSpec{Name: t.Name(), Description: t.Description()})
	}
	system, err := renderSystem(specs, tools.KnowledgeToolName, tools.WebToolName, preamble)
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	out := &Outcome{}
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iteration >= l.cfg.MaxIterations {
			out.Stop = StopMaxIterations
			break
		}
		if l.now().Sub(start) >= l.cfg.MaxExecutionTime {
			out.Stop = StopMaxTime
			break
		}

		decision, err := l.model.Decide(ctx, Prompt{
			System:   system,
			Question: question,
			Steps:    out.Steps,
			Tools:    specs,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("think: %w", provider.Unavailable("llm", err))
		}

		switch d := decision.(type) {
		case FinalAnswer:
			if answer := strings.TrimSpace(d.Text); answer != "" {
				out.Answer = answer
				out.Stop = StopFinalAnswer
				l.logger.V(1).Info("final answer", "iterations", iteration+1, "steps", len(out.Steps))
				return out, nil
			}
			out.Stop = StopEmptyAnswer
		case ToolCall:
			step := l.act(ctx, d)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out.Steps = append(out.Steps, step.Step)
			out.Sources = append(out.Sources, step.sources...)
			continue
		default:
			return nil, fmt.Errorf("think: unexpected decision %T", decision)
		}
		break
	}

	l.logger.Info("reasoning budget exhausted, forcing an answer", "reason", out.Stop, "steps", len(out.Steps), "elapsed", l.now().Sub(start))
	if out.Stop == StopMaxTime {
		// no time left for another model call
		out.Answer = fallbackAnswer(out.Steps)
		return out, nil
	}
	answer, err := l.synthesize(ctx, question, preamble, out.Steps)
	if err != nil {
		return nil, err
	}
	out.Answer = answer
	return out, nil
}

type observed struct {
	Step
	sources []provenance.Source
}

func (l *Loop) act(ctx context.Context, call ToolCall) observed {
	step := Step{
		Thought: call.Thought,
		Action:  Action{Tool: call.Tool, Input: call.Input},
	}
	res, err := l.registry.Invoke(ctx, call.Tool, call.Input)
	if err != nil {
		step.Error = err.Error()
		step.Observation = failureObservation(call.Tool, err)
		return observed{Step: step}
	}
	if strings.TrimSpace(res.Output) == "" {
		step.Observation = NoResultsObservation
		return observed{Step: step}
	}
	step.Observation = res.Output
	return observed{Step: step, sources: res.Sources}
}

// synthesize asks the model for an answer without tools and falls back to
// the gathered observations when the model cannot give one.
func (l *Loop) synthesize(ctx context.Context, question, preamble string, steps []Step) (string, error) {
	system, err := renderSynthesis(preamble)
	if err != nil {
		return "", fmt.Errorf("render synthesis prompt: %w", err)
	}
	decision, err := l.model.Decide(ctx, Prompt{System: system, Question: question, Steps: steps})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		l.logger.Error(err, "synthesis failed, answering from observations")
	} else if final, ok := decision.(FinalAnswer); ok && strings.TrimSpace(final.Text) != "" {
		return strings.TrimSpace(final.Text), nil
	}
	return fallbackAnswer(steps), nil
}

func fallbackAnswer(steps []Step) string {
	var useful []string
	for _, s := range steps {
		if s.Error != "" || s.Observation == NoResultsObservation ||
			s.Observation == tools.NoDocumentsMessage || s.Observation == tools.NoWebResultMessage {
			continue
		}
		useful = append(useful, excerpt(s.Observation))
	}
	if len(useful) == 0 {
		return noAnswerMessage
	}
	return fallbackLead + "\n" + strings.Join(useful, "\n")
}

func failureObservation(tool string, err error) string {
	reason := "indisponible"
	switch {
	case errors.Is(err, tools.ErrToolTimeout):
		reason = "délai dépassé"
	case errors.Is(err, tools.ErrUnknownTool):
		reason = "outil inconnu"
	}
	return fmt.Sprintf("L'outil %s a échoué (%s). Essaie un autre outil ou réponds avec les informations disponibles.", tool, reason)
}

func excerpt(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= fallbackExcerptLen {
		return string(runes)
	}
	return string(runes[:fallbackExcerptLen]) + "..."
}
