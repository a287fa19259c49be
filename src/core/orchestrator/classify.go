package orchestrator

import (
	"regexp"
	"strings"
)

const GreetingAnswer = "Bonjour ! Je suis l'assistant Givaudan. Comment puis-je vous aider ?"

var greetings = []string{"bonjour", "salut", "hello", "hi", "merci", "thanks", "ok", "super", "hey"}

// IsConversational reports whether q is a bare opener or closer, optionally
// followed by one of "!", "." or "?".
func IsConversational(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	for _, g := range greetings {
		switch q {
		case g, g + "!", g + ".", g + "?":
			return true
		}
	}
	return false
}

var (
	timeWords = []string{
		"aujourd'hui", "actualité", "actualites", "actualités", "récent", "recent",
		"récemment", "dernier", "dernière", "cette année", "cette semaine", "ce mois",
		"maintenant", "news", "latest", "today", "this year", "currently",
	}
	yearPattern = regexp.MustCompile(`\b20\d{2}\b`)
)

// IsTimeSensitive reports whether the answer to q likely changes over time.
func IsTimeSensitive(q string) bool {
	q = strings.ToLower(q)
	for _, w := range timeWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return yearPattern.MatchString(q)
}
