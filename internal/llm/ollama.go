package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/delver/config"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// Ollama speaks the local generate API. No credentials involved.
type Ollama struct {
	cfg     config.LLMConfig
	client  *http.Client
	baseURL string
}

func newOllama(cfg config.LLMConfig) *Ollama {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = ollamaDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &Ollama{cfg: cfg, client: &http.Client{Timeout: timeout}, baseURL: base}
}

func (o *Ollama) Model() string { return o.cfg.Model }

func (o *Ollama) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	type genOptions struct {
		Temperature float64  `json:"temperature"`
		TopP        float64  `json:"top_p,omitempty"`
		NumPredict  int      `json:"num_predict,omitempty"`
		Stop        []string `json:"stop,omitempty"`
	}
	type genReq struct {
		Model   string     `json:"model"`
		Prompt  string     `json:"prompt"`
		Stream  bool       `json:"stream"`
		Options genOptions `json:"options"`
	}

	body, err := json.Marshal(genReq{
		Model:  o.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: genOptions{
			Temperature: resolveTemperature(o.cfg, opts),
			TopP:        resolveTopP(o.cfg, opts),
			NumPredict:  resolveMaxTokens(o.cfg, opts),
			Stop:        resolveStop(o.cfg, opts),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &GenError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &GenError{Backend: "ollama", Status: resp.StatusCode, Err: errors.New(string(b))}
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
