// Package toolsimpl provides the concrete capability providers the Tool
// Registry (C1) resolves against: an Anthropic-backed reasoning/synthesis/
// analysis/vision provider and a Tavily-backed search provider. Both speak
// JSON over net/http in the same request/normalize shape rooms.Client uses
// for room delegation — no SDK is wired in because none of the retrieved
// example repos import one for this kind of call.
package toolsimpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	anthropicVersion        = "2023-06-01"
	defaultAnthropicTimeout = 60 * time.Second
)

// Anthropic wraps the Messages API and satisfies every reasoning-shaped
// capability contract instruments/instrument.go declares: ReasoningTool, SynthesisTool,
// AnalysisTool and VisionTool. One HTTP client, four thin prompt builders.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     core.Logger
}

// AnthropicOption configures an Anthropic provider.
type AnthropicOption func(*Anthropic)

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(a *Anthropic) { a.baseURL = strings.TrimRight(url, "/") }
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(a *Anthropic) { a.model = model }
}

func WithAnthropicHTTPClient(h *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.httpClient = h }
}

func WithAnthropicLogger(l core.Logger) AnthropicOption {
	return func(a *Anthropic) { a.logger = l }
}

// NewAnthropic builds a provider bound to apiKey. apiKey must be non-empty;
// callers that don't have one configured should not register this tool at
// all rather than constructing it with an empty key.
func NewAnthropic(apiKey string, opts ...AnthropicOption) (*Anthropic, error) {
	if apiKey == "" {
		return nil, core.NewFrameworkError("NewAnthropic", "toolsimpl", core.ErrInvalidInput)
	}
	a := &Anthropic{
		apiKey:     apiKey,
		baseURL:    defaultAnthropicBaseURL,
		model:      defaultAnthropicModel,
		httpClient: &http.Client{Timeout: defaultAnthropicTimeout},
		logger:     core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Capabilities() []string {
	return []string{"reasoning", "synthesis", "analysis", "vision"}
}

func (a *Anthropic) Manifest() domain.ToolManifest {
	return domain.ToolManifest{
		Name:         a.Name(),
		Version:      anthropicVersion,
		Description:  "Anthropic Messages API reasoning/synthesis/analysis/vision provider",
		Capabilities: a.Capabilities(),
		ConfigKeys:   []string{"ANTHROPIC_API_KEY"},
	}
}

func (a *Anthropic) HealthCheck(ctx context.Context) error {
	if a.apiKey == "" {
		return core.NewFrameworkError("Anthropic.HealthCheck", "toolsimpl", core.ErrInvalidInput)
	}
	return nil
}

type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []messagePayload  `json:"messages"`
}

type messagePayload struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *imageSource    `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// complete issues a single-turn Messages API call with an arbitrary
// content payload (text or a text+image block list) and returns the
// concatenated text of the reply.
func (a *Anthropic) complete(ctx context.Context, content interface{}, maxTokens int) (string, error) {
	reqBody := messagesRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  []messagePayload{{Role: "user", Content: content}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling anthropic: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading anthropic response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decoding anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("anthropic returned HTTP %d", resp.StatusCode)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Complete satisfies instruments.ReasoningTool.
func (a *Anthropic) Complete(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, prompt, 1024)
}

// Synthesize satisfies instruments.SynthesisTool: it asks the model to
// merge findings into one coherent paragraph.
func (a *Anthropic) Synthesize(ctx context.Context, query string, findings []domain.Finding) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Synthesize a single coherent answer to %q from these findings:\n", query)
	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f.Content)
	}
	return a.complete(ctx, sb.String(), 1024)
}

// DetectContradiction satisfies instruments.AnalysisTool. The model is
// asked to answer with a leading YES/NO so the parse stays simple and
// doesn't depend on free-form phrasing.
func (a *Anthropic) DetectContradiction(ctx context.Context, findings []domain.Finding) (bool, string, error) {
	var sb strings.Builder
	sb.WriteString("Do any of these findings contradict each other? Answer starting with YES or NO, then explain briefly.\n")
	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f.Content)
	}
	reply, err := a.complete(ctx, sb.String(), 512)
	if err != nil {
		return false, "", err
	}
	trimmed := strings.TrimSpace(reply)
	found := strings.HasPrefix(strings.ToUpper(trimmed), "YES")
	return found, trimmed, nil
}

// AnalyzeImage satisfies instruments.VisionTool. imageRef is treated as a
// URL; data-URI or base64 attachment handling belongs to the caller that
// owns attachment storage, not to this provider.
func (a *Anthropic) AnalyzeImage(ctx context.Context, imageRef, query string) (string, error) {
	content := []contentBlock{
		{Type: "image", Source: &imageSource{Type: "url", URL: imageRef}},
		{Type: "text", Text: query},
	}
	return a.complete(ctx, content, 1024)
}

var (
	_ instruments.ReasoningTool = (*Anthropic)(nil)
	_ instruments.SynthesisTool = (*Anthropic)(nil)
	_ instruments.AnalysisTool  = (*Anthropic)(nil)
	_ instruments.VisionTool    = (*Anthropic)(nil)
)
