// Package provenance holds the attribution types shared by every stage of
// query resolution: where a piece of context came from and which tool produced it.
package provenance

// Source describes where a piece of context came from.
type Source struct {
	DocumentID string  `json:"documentId,omitempty"`
	Title      string  `json:"title,omitempty"`
	Section    string  `json:"section,omitempty"`
	Path       string  `json:"path,omitempty"`
	URL        string  `json:"url,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Label returns the most human readable identifier of the source.
func (s Source) Label() string {
	switch {
	case s.Title != "":
		return s.Title
	case s.Path != "":
		return s.Path
	case s.URL != "":
		return s.URL
	case s.DocumentID != "":
		return s.DocumentID
	}
	return "unknown"
}

// Invocation records one tool call made while answering a question.
type Invocation struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}
