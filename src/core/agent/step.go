package agent

import "agentrag/src/core/provenance"

type Action struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// Step is one (thought, action, observation) triple of a reasoning run.
type Step struct {
	Thought     string `json:"thought"`
	Action      Action `json:"action"`
	Observation string `json:"observation"`
	// Error holds the tool failure, if any. It never reaches the answer text.
	Error string `json:"error,omitempty"`
}

func (s Step) Invocation() provenance.Invocation {
	return provenance.Invocation{
		Tool:   s.Action.Tool,
		Input:  s.Action.Input,
		Output: s.Observation,
		Error:  s.Error,
	}
}

func Invocations(steps []Step) []provenance.Invocation {
	if len(steps) == 0 {
		return nil
	}
	out := make([]provenance.Invocation, len(steps))
	for i, s := range steps {
		out[i] = s.Invocation()
	}
	return out
}
