package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mohammad-safakhou/delver/config"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// Anthropic speaks the messages API.
type Anthropic struct {
	cfg     config.LLMConfig
	client  *http.Client
	baseURL string
}

func newAnthropic(cfg config.LLMConfig) *Anthropic {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Anthropic{cfg: cfg, client: &http.Client{Timeout: timeout}, baseURL: base}
}

func (a *Anthropic) Model() string { return a.cfg.Model }

func (a *Anthropic) apiKey() string {
	if a.cfg.APIKey != "" {
		return a.cfg.APIKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

func (a *Anthropic) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	key := a.apiKey()
	if key == "" {
		return "", fmt.Errorf("Anthropic API key not configured")
	}

	// The messages API requires max_tokens.
	maxTokens := resolveMaxTokens(a.cfg, opts)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type msgReq struct {
		Model       string   `json:"model"`
		MaxTokens   int      `json:"max_tokens"`
		Messages    []msg    `json:"messages"`
		Temperature float64  `json:"temperature,omitempty"`
		TopP        float64  `json:"top_p,omitempty"`
		Stop        []string `json:"stop_sequences,omitempty"`
	}

	body, err := json.Marshal(msgReq{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		Messages:    []msg{{Role: "user", Content: prompt}},
		Temperature: resolveTemperature(a.cfg, opts),
		TopP:        resolveTopP(a.cfg, opts),
		Stop:        resolveStop(a.cfg, opts),
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &GenError{Backend: "anthropic", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &GenError{Backend: "anthropic", Status: resp.StatusCode, Err: errors.New(string(b))}
	}

	var out struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return strings.TrimSpace(out.Content[0].Text), nil
}
