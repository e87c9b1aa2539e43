package extraction

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

type fakeChat struct {
	responses []string
	err       error
	requests  []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	content := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}, nil
}

const goodResponse = `{
	"document_number": "FV/2026/08/017",
	"issue_date": "2026-08-12",
	"currency": "PLN",
	"net_amount": 1000.00,
	"vat_amount": 230.00,
	"gross_amount": 1230.00,
	"seller": {"name": "Alfa Sp. z o.o.", "tax_id": "5260250274", "address": null},
	"buyer": {"name": "Beta S.A.", "tax_id": "1132191233", "address": null},
	"field_confidence": {"document_number": 95, "net_amount": 92},
	"overall_confidence": 91
}`

func newTestExtractor(client chatCompleter, retries int) *Extractor {
	return NewExtractor(client, Config{
		Model:               "gpt-4o-mini",
		ConfidenceThreshold: 70,
		MaxRetries:          retries,
	}, zap.NewNop())
}

func TestFromText_Success(t *testing.T) {
	chat := &fakeChat{responses: []string{goodResponse}}
	extractor := newTestExtractor(chat, 1)

	result, err := extractor.FromText(context.Background(), "Faktura VAT FV/2026/08/017")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.LowConfidence)
	require.NotNil(t, result.Invoice.DocumentNumber)
	assert.Equal(t, "FV/2026/08/017", *result.Invoice.DocumentNumber)
	assert.Equal(t, "1230", result.Invoice.GrossAmount.String())
	assert.Equal(t, 91.0, result.Invoice.OverallConfidence)
}

func TestFromText_SchemaMismatchIsHardFailure(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"non-numeric amount", `{"gross_amount": "1 234,56", "overall_confidence": 90}`},
		{"not json", `the invoice totals 1230 PLN`},
		{"malformed date", `{"issue_date": "12.08.2026", "overall_confidence": 90}`},
		{"confidence out of range", `{"overall_confidence": 150}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{responses: []string{tt.response}}
			extractor := newTestExtractor(chat, 1)

			result, err := extractor.FromText(context.Background(), "text")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), "does not match schema")
			// a malformed response must not burn a retry attempt
			assert.Len(t, chat.requests, 1)
		})
	}
}

func TestFromText_AmountMismatchForcesLowConfidenceAndRetries(t *testing.T) {
	inconsistent := `{
		"net_amount": 1000.00, "vat_amount": 230.00, "gross_amount": 1500.00,
		"field_confidence": {"gross_amount": 99}, "overall_confidence": 95
	}`
	chat := &fakeChat{responses: []string{inconsistent, goodResponse}}
	extractor := newTestExtractor(chat, 1)

	result, err := extractor.FromText(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.False(t, result.LowConfidence)
	assert.Equal(t, "1230", result.Invoice.GrossAmount.String())

	// the retry call carries the previous result back to the model
	require.Len(t, chat.requests, 2)
	retryMessages := chat.requests[1].Messages
	assert.Contains(t, retryMessages[len(retryMessages)-1].Content, "1500")
}

func TestFromText_RetriesAreBounded(t *testing.T) {
	low := `{"overall_confidence": 20}`
	chat := &fakeChat{responses: []string{low}}
	extractor := newTestExtractor(chat, 1)

	result, err := extractor.FromText(context.Background(), "text")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	assert.True(t, result.LowConfidence)
	assert.Len(t, chat.requests, 2)
}

func TestFromText_RetryBudgetClampedToOne(t *testing.T) {
	low := `{"overall_confidence": 20}`
	chat := &fakeChat{responses: []string{low}}
	extractor := newTestExtractor(chat, 5)

	result, err := extractor.FromText(context.Background(), "text")
	require.NoError(t, err)

	// a generous configured budget still means one re-extraction
	assert.Equal(t, 2, result.Attempts)
	assert.Len(t, chat.requests, 2)
}

func TestFromText_APIErrorWrapped(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	extractor := newTestExtractor(chat, 0)

	_, err := extractor.FromText(context.Background(), "text")
	require.Error(t, err)

	var extErr *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "ai", extErr.Provider)
}

func TestFromImage_UsesVisionModelAndDataURL(t *testing.T) {
	chat := &fakeChat{responses: []string{goodResponse}}
	extractor := NewExtractor(chat, Config{
		Model:               "gpt-4o-mini",
		VisionModel:         "gpt-4o",
		ConfidenceThreshold: 70,
	}, zap.NewNop())

	_, err := extractor.FromImage(context.Background(), []byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)

	require.Len(t, chat.requests, 1)
	assert.Equal(t, "gpt-4o", chat.requests[0].Model)
	parts := chat.requests[0].Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].ImageURL.URL, "data:image/jpeg;base64,")
}
