// Package serpapi queries Google results through SerpAPI.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agentrag/src/core/tools"
)

const (
	DefaultURL      = "https://serpapi.com/search.json"
	DefaultLanguage = "fr"
	defaultResults  = 5
)

var ErrMissingAPIKey = errors.New("serpapi api key is not configured")

type answerBox struct {
	Title   string `json:"title"`
	Answer  string `json:"answer"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

type organicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

type searchResponse struct {
	Error          string          `json:"error"`
	AnswerBox      *answerBox      `json:"answer_box"`
	OrganicResults []organicResult `json:"organic_results"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	language   string
	results    int
}

type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithLanguage(hl string) Option {
	return func(c *Client) { c.language = hl }
}

func WithResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.results = n
		}
	}
}

func NewClient(apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultURL,
		apiKey:     apiKey,
		language:   DefaultLanguage,
		results:    defaultResults,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns the answer box, when present, followed by the organic results.
func (c *Client) Search(ctx context.Context, query string) ([]tools.WebHit, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("hl", c.language)
	params.Set("num", strconv.Itoa(c.results))
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the url carries the api key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("serpapi returned %s", resp.Status)
		}
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("serpapi error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi returned %s", resp.Status)
	}

	hits := make([]tools.WebHit, 0, len(result.OrganicResults)+1)
	if box := result.AnswerBox; box != nil {
		text := box.Answer
		if text == "" {
			text = box.Snippet
		}
		if text != "" {
			hits = append(hits, tools.WebHit{Title: box.Title, URL: box.Link, Snippet: text})
		}
	}
	for _, r := range result.OrganicResults {
		if len(hits) >= c.results {
			break
		}
		hits = append(hits, tools.WebHit{
			Title:   strings.TrimSpace(r.Title),
			URL:     r.Link,
			Snippet: strings.TrimSpace(r.Snippet),
		})
	}
	return hits, nil
}
