package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Engine by asking Google Gemini for a verbatim transcription
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGeminiFactory returns an EngineFactory building a Gemini engine.
func NewGeminiFactory(apiKey, modelName string) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		return NewGemini(ctx, apiKey, modelName)
	}
}

// NewGemini creates a new Gemini engine
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:  client,
		model:   model,
		timeout: 60 * time.Second,
	}, nil
}

// Recognize transcribes the receipt image
func (g *Gemini) Recognize(ctx context.Context, image []byte, progress ProgressFunc) (string, error) {
	progress = orNoop(progress)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []genai.Part{
		genai.ImageData(imageFormat(image), image),
		genai.Text(transcriptionPrompt),
	}
	progress(10)

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	progress(100)

	return cleanTranscription(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
