package toolsimpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
)

const (
	defaultTavilyBaseURL = "https://api.tavily.com"
	defaultTavilyTimeout = 30 * time.Second
	defaultTavilyDepth   = "basic"
	defaultTavilyMaxHits = 5
)

// Tavily wraps the Tavily Search API and satisfies instruments.SearchTool.
type Tavily struct {
	apiKey     string
	baseURL    string
	maxHits    int
	httpClient *http.Client
	logger     core.Logger
}

type TavilyOption func(*Tavily)

func WithTavilyBaseURL(url string) TavilyOption {
	return func(t *Tavily) { t.baseURL = strings.TrimRight(url, "/") }
}

func WithTavilyMaxHits(n int) TavilyOption {
	return func(t *Tavily) { t.maxHits = n }
}

func WithTavilyHTTPClient(h *http.Client) TavilyOption {
	return func(t *Tavily) { t.httpClient = h }
}

func WithTavilyLogger(l core.Logger) TavilyOption {
	return func(t *Tavily) { t.logger = l }
}

// NewTavily builds a provider bound to apiKey.
func NewTavily(apiKey string, opts ...TavilyOption) (*Tavily, error) {
	if apiKey == "" {
		return nil, core.NewFrameworkError("NewTavily", "toolsimpl", core.ErrInvalidInput)
	}
	t := &Tavily{
		apiKey:     apiKey,
		baseURL:    defaultTavilyBaseURL,
		maxHits:    defaultTavilyMaxHits,
		httpClient: &http.Client{Timeout: defaultTavilyTimeout},
		logger:     core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Tavily) Name() string             { return "tavily" }
func (t *Tavily) Capabilities() []string   { return []string{"web_search"} }

func (t *Tavily) Manifest() domain.ToolManifest {
	return domain.ToolManifest{
		Name:         t.Name(),
		Version:      "v1",
		Description:  "Tavily web search provider",
		Capabilities: t.Capabilities(),
		ConfigKeys:   []string{"TAVILY_API_KEY"},
	}
}

func (t *Tavily) HealthCheck(ctx context.Context) error {
	if t.apiKey == "" {
		return core.NewFrameworkError("Tavily.HealthCheck", "toolsimpl", core.ErrInvalidInput)
	}
	return nil
}

type tavilySearchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
}

type tavilySearchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
	Error string `json:"error"`
}

// Search satisfies instruments.SearchTool.
func (t *Tavily) Search(ctx context.Context, query string) ([]instruments.SearchResult, error) {
	reqBody := tavilySearchRequest{
		APIKey:      t.apiKey,
		Query:       query,
		SearchDepth: defaultTavilyDepth,
		MaxResults:  t.maxHits,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tavily: %w", err)
	}
	defer resp.Body.Close()

	var parsed tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding tavily response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != "" {
			return nil, fmt.Errorf("tavily returned %d: %s", resp.StatusCode, parsed.Error)
		}
		return nil, fmt.Errorf("tavily returned HTTP %d", resp.StatusCode)
	}

	out := make([]instruments.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, instruments.SearchResult{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}
	return out, nil
}

var _ instruments.SearchTool = (*Tavily)(nil)
