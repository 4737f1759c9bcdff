package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/archivebot/internal/domain"
)

type stubGenerator struct {
	generateFn func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

func (s *stubGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return s.generateFn(ctx, parts...)
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestGeminiClassifier_Classify(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		want    domain.Analysis
		wantErr bool
	}{
		{
			name: "plain json",
			resp: textResponse(`{"category":"poster","keywords":["exam","math"],"subject":"Algebra","date":"12/05/24"}`),
			want: domain.Analysis{Category: "poster", Keywords: []string{"exam", "math"}, Subject: "Algebra", Date: "12/05/24"},
		},
		{
			name: "fenced json with nulls",
			resp: textResponse("```json\n{\"category\":\"notes\",\"keywords\":[],\"subject\":null,\"date\":null}\n```"),
			want: domain.Analysis{Category: "notes", Keywords: []string{}},
		},
		{
			name: "split across parts",
			resp: textResponse(`{"category":"exam",`, `"keywords":["physics"]}`),
			want: domain.Analysis{Category: "exam", Keywords: []string{"physics"}},
		},
		{name: "not json", resp: textResponse("I think this is a poster"), wantErr: true},
		{name: "missing category", resp: textResponse(`{"keywords":["x"]}`), wantErr: true},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: true},
		{name: "api error", err: errors.New("quota exceeded"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{
				generateFn: func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
					_, hasDeadline := ctx.Deadline()
					assert.True(t, hasDeadline)
					require.Len(t, parts, 2)
					blob, ok := parts[1].(genai.Blob)
					require.True(t, ok)
					assert.Equal(t, "image/png", blob.MIMEType)
					return tt.resp, tt.err
				},
			}

			got, err := newGeminiClassifier(gen, time.Second).Classify(context.Background(), []byte("png"), "image/png")
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrClassification)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFence(`  {"a":1}  `))
}
