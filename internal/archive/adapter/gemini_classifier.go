package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/aelexs/archivebot/internal/archive/app"
	"github.com/aelexs/archivebot/internal/domain"
)

const classifyPrompt = "Analyze this content and return a JSON object with these fields: " +
	"category (one of: poster, exam, notes, assignment, event), " +
	"keywords (array of strings), subject (string or null), date (string or null)"

// contentGenerator is the subset of *genai.GenerativeModel the classifier uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

var _ app.Classifier = (*GeminiClassifier)(nil)

// GeminiClassifier asks a Gemini model to categorize uploaded content.
type GeminiClassifier struct {
	model   contentGenerator
	timeout time.Duration
}

// NewGeminiClient opens a Gemini API client. The caller closes it.
func NewGeminiClient(ctx context.Context, apiKey domain.SecretString) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey.Expose()))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiClassifier builds a classifier on the named model. The model is
// asked for JSON output.
func NewGeminiClassifier(client *genai.Client, modelName string, timeout time.Duration) *GeminiClassifier {
	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.2)
	return newGeminiClassifier(model, timeout)
}

func newGeminiClassifier(model contentGenerator, timeout time.Duration) *GeminiClassifier {
	if timeout <= 0 {
		timeout = domain.ClassifierTimeout
	}
	return &GeminiClassifier{model: model, timeout: timeout}
}

// Classify sends the payload inline with the analysis prompt. Callers
// validate the returned category; this adapter only decodes.
func (c *GeminiClassifier) Classify(ctx context.Context, data []byte, mimeType string) (domain.Analysis, error) {
	ctx, span := tracer.Start(ctx, "gemini.classify")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx,
		genai.Text(classifyPrompt),
		genai.Blob{MIMEType: mimeType, Data: data},
	)
	if err != nil {
		span.RecordError(err)
		return domain.Analysis{}, fmt.Errorf("%w: generate: %v", domain.ErrClassification, err)
	}

	text, err := responseText(resp)
	if err != nil {
		return domain.Analysis{}, err
	}
	return parseAnalysis(text)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", domain.ErrClassification)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response", domain.ErrClassification)
	}
	return b.String(), nil
}

type analysisJSON struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
	Subject  *string  `json:"subject"`
	Date     *string  `json:"date"`
}

// parseAnalysis decodes the model output, tolerating a markdown code fence.
func parseAnalysis(text string) (domain.Analysis, error) {
	text = stripFence(text)

	var raw analysisJSON
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return domain.Analysis{}, fmt.Errorf("%w: decode: %v", domain.ErrClassification, err)
	}
	if raw.Category == "" {
		return domain.Analysis{}, fmt.Errorf("%w: missing category", domain.ErrClassification)
	}

	a := domain.Analysis{
		Category: domain.Category(raw.Category),
		Keywords: raw.Keywords,
	}
	if a.Keywords == nil {
		a.Keywords = []string{}
	}
	if raw.Subject != nil {
		a.Subject = *raw.Subject
	}
	if raw.Date != nil {
		a.Date = *raw.Date
	}
	return a, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
