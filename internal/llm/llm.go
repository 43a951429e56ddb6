package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/continuity/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// Narrator writes a short prose summary of a sprint report.
type Narrator interface {
	SprintNarrative(ctx context.Context, report *models.SprintReport) (string, error)
}

// Client wraps the Anthropic API for sprint narratives.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildNarrativePrompt constructs the system and user prompts for a sprint narrative.
func buildNarrativePrompt(report *models.SprintReport) (system string, user string) {
	system = `You write sprint retrospectives for a log of work done by AI coding assistants. Given per-contributor statistics and task summaries, write a short narrative in plain prose.

Rules:
- 2 to 4 short paragraphs, no headings, no bullet lists
- Mention each contributor by name and what they accomplished
- Call out tasks that are still open
- Do not invent work that is not in the input
- Return the narrative text only, no markdown fencing or preamble`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sprint %d (%s)\n", report.Number, report.Status)
	fmt.Fprintf(&sb, "Started: %s\n", report.StartedAt.Format("2006-01-02"))
	if report.EndedAt != nil {
		fmt.Fprintf(&sb, "Ended: %s\n", report.EndedAt.Format("2006-01-02"))
	}
	if report.Summary != "" {
		fmt.Fprintf(&sb, "Sprint summary: %s\n", report.Summary)
	}
	fmt.Fprintf(&sb, "Tasks: %d (%d open), %.0f minutes total\n", report.TaskCount, report.OpenTasks, report.TotalMinutes)

	for _, c := range report.Contributors {
		fmt.Fprintf(&sb, "\n## %s\n", c.LLMName)
		fmt.Fprintf(&sb, "Tasks: %d closed, %d open, %.0f minutes\n", c.ClosedTasks, c.OpenTasks, c.Minutes)
		if len(c.Files) > 0 {
			fmt.Fprintf(&sb, "Files: %s\n", strings.Join(c.Files, ", "))
		}
		for _, s := range c.Summaries {
			sb.WriteString("- ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	user = sb.String()
	return
}

// SprintNarrative asks the model for a prose summary of report.
func (c *Client) SprintNarrative(ctx context.Context, report *models.SprintReport) (string, error) {
	systemPrompt, userPrompt := buildNarrativePrompt(report)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}

// stripFence removes a surrounding markdown code fence if the model added one.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
