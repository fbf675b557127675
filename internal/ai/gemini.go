package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

const maxPromptTickers = 15

type Client struct {
	client  *genai.Client
	modelID string
	config  *genai.GenerateContentConfig
}

type CommentaryResult struct {
	Summary  string   `json:"summary"`
	Standout []string `json:"standout_tickers"`
}

// NewClient returns nil without an API key; a nil *Client annotates nothing.
func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}
	return newClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, modelID)
}

func newClient(ctx context.Context, cc *genai.ClientConfig, modelID string) (*Client, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		client:  client,
		modelID: modelID,
		config: &genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.2),
			ResponseMIMEType: "application/json",
			ResponseSchema: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"summary": {
						Type:        genai.TypeString,
						Description: "Two or three neutral sentences describing which tickers dominate removed posts and whether attention is broad or concentrated.",
					},
					"standout_tickers": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "Tickers whose author count is high relative to mentions.",
					},
				},
				Required: []string{"summary"},
			},
		},
	}, nil
}

// Annotate writes a short commentary for the report. It never gives investment advice.
func (c *Client) Annotate(ctx context.Context, report models.Report) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelID, genai.Text(buildPrompt(report)), c.config)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("no text part in response")
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var result CommentaryResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}

	summary := strings.TrimSpace(result.Summary)
	if len(result.Standout) > 0 {
		summary += "\nStandouts: " + strings.Join(result.Standout, ", ")
	}
	return summary, nil
}

func buildPrompt(report models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tickers mentioned in removed Reddit posts over the last %s.\n", report.Window)
	b.WriteString("Score is mentions multiplied by distinct authors.\n\n")
	for i, s := range report.Ranked {
		if i == maxPromptTickers {
			break
		}
		fmt.Fprintf(&b, "%s: score %d, mentions %d, authors %d\n", s.Ticker, s.Score, s.Mentions, s.Authors)
	}
	b.WriteString("\nSummarize the pattern for a moderation audience. Do not give investment advice. Output JSON adhering to the schema.")
	return b.String()
}
