package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Narrator writes the optional interpretation paragraph of a report.
type Narrator interface {
	Name() string
	Narrate(ctx context.Context, in Input) (string, error)
}

const narrativeSystemPrompt = "You are a soil scientist. Write one short plain-text paragraph " +
	"interpreting soil organic carbon and soil moisture estimates for a farm region. " +
	"Do not invent numbers that are not given."

// NarrativePrompt renders the user prompt shared by every provider.
func NarrativePrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Region: %s\n", in.RegionName)
	fmt.Fprintf(&b, "Period: %s to %s\n", in.Start.Format(DateLayout), in.End.Format(DateLayout))
	if in.SOC != nil {
		fmt.Fprintf(&b, "Soil organic carbon (%s): mean %.2f, std %.2f, range %.2f-%.2f\n",
			in.SOC.Unit, in.SOC.Stats.Mean, in.SOC.Stats.Std, in.SOC.Stats.Min, in.SOC.Stats.Max)
	}
	if in.Moisture != nil {
		fmt.Fprintf(&b, "Soil moisture (%s): mean %.2f, std %.2f, range %.2f-%.2f\n",
			in.Moisture.Unit, in.Moisture.Stats.Mean, in.Moisture.Stats.Std, in.Moisture.Stats.Min, in.Moisture.Stats.Max)
	}
	if in.Weather.Days > 0 {
		fmt.Fprintf(&b, "Weather over %d days: mean temperature %.1f C, total precipitation %.1f mm\n",
			in.Weather.Days, in.Weather.MeanTemperatureC, in.Weather.TotalPrecipitationMM)
	}
	return b.String()
}

// NoopNarrator produces no narrative.
type NoopNarrator struct{}

func (NoopNarrator) Name() string                                   { return "none" }
func (NoopNarrator) Narrate(context.Context, Input) (string, error) { return "", nil }

// ChatCompleter is the subset of the OpenAI client the narrator needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAINarrator uses an OpenAI chat completion.
type OpenAINarrator struct {
	client       ChatCompleter
	model        string
	systemPrompt string
}

func NewOpenAINarrator(apiKey, model string) (*OpenAINarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai narrator: API key not provided")
	}
	return NewOpenAINarratorWithClient(openai.NewClient(apiKey), model), nil
}

func NewOpenAINarratorWithClient(client ChatCompleter, model string) *OpenAINarrator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAINarrator{client: client, model: model, systemPrompt: narrativeSystemPrompt}
}

// WithSystemPrompt replaces the built-in system prompt when p is non-empty.
func (n *OpenAINarrator) WithSystemPrompt(p string) *OpenAINarrator {
	if p != "" {
		n.systemPrompt = p
	}
	return n
}

func (n *OpenAINarrator) Name() string { return "openai" }

func (n *OpenAINarrator) Narrate(ctx context.Context, in Input) (string, error) {
	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: n.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: NarrativePrompt(in)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GeminiNarrator uses a Gemini generative model.
type GeminiNarrator struct {
	client       *genai.Client
	model        string
	systemPrompt string
}

func NewGeminiNarrator(ctx context.Context, apiKey, model string) (*GeminiNarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini narrator: API key not provided")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiNarrator{client: client, model: model, systemPrompt: narrativeSystemPrompt}, nil
}

func (n *GeminiNarrator) Name() string { return "gemini" }

func (n *GeminiNarrator) Narrate(ctx context.Context, in Input) (string, error) {
	gm := n.client.GenerativeModel(n.model)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(n.systemPrompt)}}
	resp, err := gm.GenerateContent(ctx, genai.Text(NarrativePrompt(in)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return strings.TrimSpace(b.String()), nil
}

// Close releases the Gemini client.
func (n *GeminiNarrator) Close() error {
	return n.client.Close()
}

// NarratorConfig selects and configures a narrative provider.
type NarratorConfig struct {
	Provider     string // none, openai, gemini
	Model        string
	OpenAIAPIKey string
	GeminiAPIKey string
	SystemPrompt string // empty: built-in prompt
}

// NewNarrator builds the configured narrator. A provider that cannot be
// initialised degrades to NoopNarrator with a warning.
func NewNarrator(ctx context.Context, cfg NarratorConfig) Narrator {
	switch cfg.Provider {
	case "openai":
		n, err := NewOpenAINarrator(cfg.OpenAIAPIKey, cfg.Model)
		if err != nil {
			log.Warnf("OpenAI narrator disabled: %v", err)
			return NoopNarrator{}
		}
		return n.WithSystemPrompt(cfg.SystemPrompt)
	case "gemini":
		n, err := NewGeminiNarrator(ctx, cfg.GeminiAPIKey, cfg.Model)
		if err != nil {
			log.Warnf("Gemini narrator disabled: %v", err)
			return NoopNarrator{}
		}
		if cfg.SystemPrompt != "" {
			n.systemPrompt = cfg.SystemPrompt
		}
		return n
	default:
		return NoopNarrator{}
	}
}
