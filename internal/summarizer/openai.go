package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	baseMaxOutputTokens  int64 = 256
	limitMaxOutputTokens int64 = 1024

	incompleteReasonMaxTokens = "max_output_tokens"

	systemPrompt = `Summarize the GitHub repository in one ultra-short sentence.

Rules:
- ≤20 words (hard limit 30).
- Say what the project is and what it does; mention the language only if it matters.
- No marketing language, no emojis, no hashtags, no links.
- Do not repeat the repository name.
- Output exactly one line in English.`
)

// OpenAISummarizer asks the Responses API for a one-line repository summary.
type OpenAISummarizer struct {
	client openai.Client
}

// NewOpenAISummarizer passes any extra options on to the client, after the
// API key.
func NewOpenAISummarizer(apiKey string, opts ...option.RequestOption) *OpenAISummarizer {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &OpenAISummarizer{client: openai.NewClient(opts...)}
}

// Summarize retries with a doubled output budget while the model runs out of
// tokens, up to limitMaxOutputTokens.
func (s *OpenAISummarizer) Summarize(ctx context.Context, input Input) (string, error) {
	if strings.TrimSpace(input.Text) == "" {
		return "", errors.New("input is empty")
	}

	prompt := userPrompt(input)

	for budget := baseMaxOutputTokens; ; budget = min(budget*2, limitMaxOutputTokens) {
		resp, err := s.request(ctx, prompt, budget)
		if err != nil {
			return "", fmt.Errorf("do request: %w", err)
		}

		if resp.Status == "incomplete" {
			reason := resp.IncompleteDetails.Reason
			if reason == incompleteReasonMaxTokens && budget < limitMaxOutputTokens {
				continue
			}

			return "", fmt.Errorf("response is incomplete (reason = %s, maxOutputTokens = %d)", reason, budget)
		}

		summary := strings.TrimSpace(resp.OutputText())
		if summary == "" {
			return "", fmt.Errorf("output text is missing (status = %s)", resp.Status)
		}

		return summary, nil
	}
}

func (s *OpenAISummarizer) request(ctx context.Context, prompt string, budget int64) (*responses.Response, error) {
	return s.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           openai.ChatModelGPT5Mini2025_08_07,
		ServiceTier:     responses.ResponseNewParamsServiceTierFlex,
		MaxOutputTokens: openai.Int(budget),
		Reasoning: responses.ReasoningParam{
			Effort: openai.ReasoningEffortLow,
		},
		Instructions: openai.String(systemPrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
}

// userPrompt lays the input out as labelled sections; empty ones are left
// out.
func userPrompt(input Input) string {
	sections := []struct {
		label string
		value string
	}{
		{"Repository", input.Name},
		{"Source", input.SourceURL},
		{"Details", input.Text},
	}

	var b strings.Builder
	for _, section := range sections {
		value := strings.TrimSpace(section.value)
		if value == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(section.label)
		b.WriteString(":\n")
		b.WriteString(value)
	}

	return b.String()
}
