package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tiger/intersection-signal-sim/providers/decision/httpdecision"
	"github.com/tiger/intersection-signal-sim/providers/decision/prompt"
)

const ProviderID = "decision-openai"

// Config selects a chat-completions compatible endpoint (OpenAI, DeepSeek).
type Config struct {
	APIKey      string
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Prompt      prompt.Renderer
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:      os.Getenv("SIGSIM_DECISION_OPENAI_API_KEY"),
		Endpoint:    defaultString(os.Getenv("SIGSIM_DECISION_OPENAI_ENDPOINT"), "https://api.openai.com/v1/chat/completions"),
		Model:       defaultString(os.Getenv("SIGSIM_DECISION_OPENAI_MODEL"), "gpt-4o-mini"),
		Temperature: 0.2,
		MaxTokens:   1024,
		Timeout:     30 * time.Second,
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractText returns choices[0].message.content.
func ExtractText(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("chat completion has no content")
	}
	return resp.Choices[0].Message.Content, nil
}

func NewDecider(cfg Config) (*httpdecision.Decider, error) {
	return httpdecision.New(httpdecision.Config{
		ProviderID:   ProviderID,
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Authorization",
		APIKeyPrefix: "Bearer ",
		Timeout:      cfg.Timeout,
		Prompt:       cfg.Prompt,
		BuildBody: func(system, user string) any {
			return map[string]any{
				"model":       cfg.Model,
				"temperature": cfg.Temperature,
				"max_tokens":  cfg.MaxTokens,
				"messages": []httpdecision.Message{
					{Role: "system", Content: system},
					{Role: "user", Content: user},
				},
				"response_format": map[string]string{"type": "json_object"},
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
