package agent

import (
	"context"
	"fmt"
)

// Decision is what the model returns from one THINK step: either a
// FinalAnswer or a ToolCall.
type Decision interface {
	decision()
}

type FinalAnswer struct {
	Thought string
	Text    string
}

type ToolCall struct {
	Thought string
	Tool    string
	Input   string
}

func (FinalAnswer) decision() {}
func (ToolCall) decision()    {}

func (c ToolCall) String() string {
	return fmt.Sprintf("%s(%q)", c.Tool, c.Input)
}

// ToolSpec describes a tool the model may choose.
type ToolSpec struct {
	Name        string
	Description string
}

// Prompt carries everything one THINK step needs. Tools is empty when the
// model must answer without acting.
type Prompt struct {
	System   string
	Question string
	Steps    []Step
	Tools    []ToolSpec
}

// Model is the language-model collaborator that turns a prompt into a Decision.
type Model interface {
	Decide(ctx context.Context, p Prompt) (Decision, error)
}
