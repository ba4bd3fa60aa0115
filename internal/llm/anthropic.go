package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Client) callAnthropic(ctx context.Context, req contracts.CompletionRequest) (string, error) {
	var resp anthropicResponse
	err := c.postJSON(ctx, c.endpoint+"/v1/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}, anthropicRequest{
		Model:       c.model,
		System:      req.System,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}, &resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: no text in response")
	}
	return sb.String(), nil
}
