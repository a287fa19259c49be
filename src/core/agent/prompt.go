package agent

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// Turn is one message of the conversation supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const DefaultHistoryTurns = 6

const systemTemplate = `Tu es un assistant Givaudan expert en parfumerie et arômes.

Outils disponibles:
{{.tools}}

RÈGLES:
1. Cherche d'abord avec {{.knowledge_tool}}.
2. Si des documents pertinents sont trouvés, donne la réponse finale.
3. Si rien n'est trouvé ou si la question porte sur l'actualité, utilise {{.web_tool}}.
4. Réponds en français, de façon concise, en citant tes sources.
{{.chat_history}}`

const synthesisTemplate = `Tu es un assistant Givaudan expert en parfumerie et arômes.
Le temps de recherche est écoulé. Rédige la meilleure réponse possible à partir
des observations déjà recueillies, sans appeler d'outil. Si elles sont
insuffisantes, dis-le simplement.
{{.chat_history}}`

var (
	systemPrompt    = prompts.NewPromptTemplate(systemTemplate, []string{"tools", "knowledge_tool", "web_tool", "chat_history"})
	synthesisPrompt = prompts.NewPromptTemplate(synthesisTemplate, []string{"chat_history"})
)

// FormatHistory serializes the last n turns into a short preamble. Older
// turns are dropped.
func FormatHistory(history []Turn, n int) string {
	if n <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var b strings.Builder
	b.WriteString("Conversation précédente:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", capitalize(t.Role), strings.TrimSpace(t.Content))
	}
	return b.String()
}

func renderSystem(specs []ToolSpec, knowledgeTool, webTool, history string) (string, error) {
	lines := make([]string, len(specs))
	for i, s := range specs {
		lines[i] = fmt.Sprintf("- %s: %s", s.Name, s.Description)
	}
	return systemPrompt.Format(map[string]any{
		"tools":          strings.Join(lines, "\n"),
		"knowledge_tool": knowledgeTool,
		"web_tool":       webTool,
		"chat_history":   history,
	})
}

func renderSynthesis(history string) (string, error) {
	return synthesisPrompt.Format(map[string]any{"chat_history": history})
}

func capitalize(role string) string {
	role = strings.TrimSpace(role)
	if role == "" {
		return "User"
	}
	return strings.ToUpper(role[:1]) + strings.ToLower(role[1:])
}
