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

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAI speaks the chat completions API, which also covers any
// OpenAI-compatible endpoint reachable through base_url.
type OpenAI struct {
	cfg     config.LLMConfig
	client  *http.Client
	baseURL string
}

func newOpenAI(cfg config.LLMConfig) *OpenAI {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = openaiDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{cfg: cfg, client: &http.Client{Timeout: timeout}, baseURL: base}
}

func (o *OpenAI) Model() string { return o.cfg.Model }

func (o *OpenAI) apiKey() string {
	if o.cfg.APIKey != "" {
		return o.cfg.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (o *OpenAI) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	key := o.apiKey()
	if key == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature"`
		TopP        float64   `json:"top_p,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Stop        []string  `json:"stop,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       o.cfg.Model,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: resolveTemperature(o.cfg, opts),
		TopP:        resolveTopP(o.cfg, opts),
		MaxTokens:   resolveMaxTokens(o.cfg, opts),
		Stop:        resolveStop(o.cfg, opts),
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &GenError{Backend: "openai", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &GenError{Backend: "openai", Status: resp.StatusCode, Err: errors.New(string(b))}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
