package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/loomline/voicecore/pkg/Logger"
	"google.golang.org/api/option"
)

// GeminiProvider implements Provider using Google Gemini, adapted from
// internal/models/processor.GeminiProcessor: same client construction and
// JSON-response-mode configuration, restructured around the two fixed
// response shapes (TitleSummary, MemoryExtraction) this domain needs
// instead of the teacher's arbitrary-responseType ProcessWithType.
type GeminiProvider struct {
	model  *genai.GenerativeModel
	client *genai.Client
	logger *Logger.Logger
}

type GeminiConfig struct {
	APIKey    string
	ModelName string
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *Logger.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	modelName := cfg.ModelName
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	temp := float32(0.1)
	model.Temperature = &temp

	return &GeminiProvider{model: model, client: client, logger: logger}, nil
}

func (g *GeminiProvider) Summarize(ctx context.Context, transcript string, segments []string, memoryContext string) (TitleSummary, error) {
	prompt := fmt.Sprintf(`Given this conversation transcript, produce a short title, a one-sentence summary and a detailed summary.

Transcript:
%s

Segments:
%s

Memory context:
%s

Respond with JSON matching: {"title": "...", "summary": "...", "detailed_summary": "..."}`,
		transcript, strings.Join(segments, "\n"), memoryContext)

	var out TitleSummary
	if err := g.generateJSON(ctx, prompt, &out); err != nil {
		return TitleSummary{}, err
	}
	return out, nil
}

func (g *GeminiProvider) ExtractMemory(ctx context.Context, transcript string, segments []string) (MemoryExtraction, error) {
	prompt := fmt.Sprintf(`Extract durable facts and named entities from this transcript.

Transcript:
%s

Segments:
%s

Respond with JSON matching: {"facts": ["..."], "entities": ["..."]}`,
		transcript, strings.Join(segments, "\n"))

	var out MemoryExtraction
	if err := g.generateJSON(ctx, prompt, &out); err != nil {
		return MemoryExtraction{}, err
	}
	return out, nil
}

func (g *GeminiProvider) generateJSON(ctx context.Context, prompt string, dst interface{}) error {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return fmt.Errorf("no response candidates received")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return fmt.Errorf("empty response received")
	}

	if err := json.Unmarshal([]byte(text), dst); err != nil {
		return fmt.Errorf("parsing model response as JSON: %w", err)
	}
	return nil
}

func (g *GeminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
