package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible chat completions provider.
// Any endpoint speaking the /v1/chat/completions dialect works.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// OpenAICompatible generates step output through an OpenAI-compatible chat
// completions endpoint. The persona prompt becomes the system message; the
// goal, step instruction, artifacts, and recent history form the user
// message. The full response text is recorded as the step's artifact when
// the step names an action.
type OpenAICompatible struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompatible creates the provider.
func NewOpenAICompatible(cfg OpenAIConfig, logger *zap.Logger) *OpenAICompatible {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompatible{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate implements Provider.
func (p *OpenAICompatible) Generate(ctx context.Context, persona *Persona, req *Request) (*Result, error) {
	body := chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.systemPrompt(persona, req)},
			{Role: "user", Content: p.userPrompt(req)},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Code: ErrCodeInternal, Message: "marshal request", Cause: err}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Code: ErrCodeInternal, Message: "build request", Cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{
			Code:      ErrCodeUpstreamTimeout,
			Message:   "chat completion request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, resp.Body)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{
			Code:      ErrCodeUnavailable,
			Message:   "decode chat completion response",
			Retryable: true,
			Cause:     err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Code: ErrCodeUnavailable, Message: "empty choices in response", Retryable: true}
	}

	content := parsed.Choices[0].Message.Content
	result := &Result{Content: content}
	if req.Action != "" {
		name := artifactName(req.Action)
		result.Artifacts = []GeneratedArtifact{{
			Name:    name,
			Type:    artifactType(name),
			Content: content,
		}}
	}
	return result, nil
}

// artifactName derives the artifact name from the step action, so that
// "create_project_brief" produces the "project-brief" artifact later steps
// declare as a requirement.
func artifactName(action string) string {
	for _, prefix := range []string{"create_", "draft_", "produce_"} {
		action = strings.TrimPrefix(action, prefix)
	}
	return strings.ReplaceAll(action, "_", "-")
}

func (p *OpenAICompatible) systemPrompt(persona *Persona, req *Request) string {
	var b strings.Builder
	b.WriteString(persona.Prompt)
	if req.HandoffPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(req.HandoffPrompt)
	}
	return b.String()
}

func (p *OpenAICompatible) userPrompt(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	if req.Description != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.Description)
	} else if req.Action != "" {
		fmt.Fprintf(&b, "Task: produce %s\n", req.Action)
	}
	for name, content := range req.Artifacts {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, content)
	}
	if len(req.History) > 0 {
		b.WriteString("\nRecent discussion:\n")
		for _, line := range req.History {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// artifactType guesses the artifact type from the action name so the
// artifact manager can map it to a repository path.
func artifactType(action string) string {
	switch {
	case strings.Contains(action, "brief"):
		return "project-brief"
	case strings.Contains(action, "prd"), strings.Contains(action, "requirements"):
		return "requirements"
	case strings.Contains(action, "architecture"):
		return "architecture"
	case strings.Contains(action, "story"):
		return "story"
	default:
		return "document"
	}
}

func mapHTTPError(status int, body io.Reader) *ProviderError {
	msg := readErrorMessage(body)
	switch {
	case status == http.StatusTooManyRequests:
		return &ProviderError{Code: ErrCodeRateLimit, Message: msg, Retryable: true}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &ProviderError{Code: ErrCodeUpstreamTimeout, Message: msg, Retryable: true}
	case status >= 500:
		return &ProviderError{Code: ErrCodeUnavailable, Message: msg, Retryable: true}
	default:
		return &ProviderError{
			Code:    ErrCodeInternal,
			Message: fmt.Sprintf("status %d: %s", status, msg),
		}
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "upstream error"
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
