package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tiger/intersection-signal-sim/providers/decision/httpdecision"
	"github.com/tiger/intersection-signal-sim/providers/decision/prompt"
)

const ProviderID = "decision-anthropic"

type Config struct {
	APIKey           string
	Endpoint         string
	Model            string
	AnthropicVersion string
	MaxTokens        int
	Timeout          time.Duration
	Prompt           prompt.Renderer
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:           os.Getenv("SIGSIM_DECISION_ANTHROPIC_API_KEY"),
		Endpoint:         defaultString(os.Getenv("SIGSIM_DECISION_ANTHROPIC_ENDPOINT"), "https://api.anthropic.com/v1/messages"),
		Model:            defaultString(os.Getenv("SIGSIM_DECISION_ANTHROPIC_MODEL"), "claude-3-5-haiku-latest"),
		AnthropicVersion: defaultString(os.Getenv("SIGSIM_DECISION_ANTHROPIC_VERSION"), "2023-06-01"),
		MaxTokens:        1024,
		Timeout:          30 * time.Second,
	}
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ExtractText returns content[0].text.
func ExtractText(body []byte) (string, error) {
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode messages response: %w", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", errors.New("messages response has no text content")
	}
	return resp.Content[0].Text, nil
}

func NewDecider(cfg Config) (*httpdecision.Decider, error) {
	return httpdecision.New(httpdecision.Config{
		ProviderID:    ProviderID,
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		APIKeyHeader:  "x-api-key",
		Timeout:       cfg.Timeout,
		Prompt:        cfg.Prompt,
		StaticHeaders: map[string]string{"anthropic-version": cfg.AnthropicVersion},
		BuildBody: func(system, user string) any {
			return map[string]any{
				"model":      cfg.Model,
				"max_tokens": cfg.MaxTokens,
				"system":     system,
				"messages": []httpdecision.Message{
					{Role: "user", Content: user},
				},
			}
		},
		ExtractText: ExtractText,
	})
}

func NewDeciderFromEnv() (*httpdecision.Decider, error) {
	return NewDecider(ConfigFromEnv())
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
