package classification

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
)

type fakeChat struct {
	response string
	err      error
	calls    int
	lastReq  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.response}},
		},
	}, nil
}

func TestClassify_TaxIDMatchSkipsModel(t *testing.T) {
	tests := []struct {
		name          string
		ownTaxID      string
		doc           Document
		wantDirection string
	}{
		{
			name:          "tenant is seller",
			ownTaxID:      "5260250274",
			doc:           Document{SellerTaxID: "PL 526-025-02-74", BuyerTaxID: "1132191233"},
			wantDirection: models.DirectionOutgoing,
		},
		{
			name:          "tenant is buyer",
			ownTaxID:      "1132191233",
			doc:           Document{SellerTaxID: "5260250274", BuyerTaxID: "113-219-12-33"},
			wantDirection: models.DirectionIncoming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := &fakeChat{}
			classifier := NewClassifier(chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

			result := classifier.Classify(context.Background(), tt.ownTaxID, tt.doc)

			assert.Equal(t, tt.wantDirection, result.Direction)
			assert.Equal(t, 1.0, result.Confidence)
			assert.Equal(t, MethodTaxIDMatch, result.Method)
			assert.Zero(t, chat.calls, "authoritative tax id match must not call the model")
		})
	}
}

func TestClassify_FallsBackToModel(t *testing.T) {
	chat := &fakeChat{response: `{"direction": "INCOMING", "confidence": 0.8, "rationale": "buyer name matches tenant"}`}
	classifier := NewClassifier(chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

	result := classifier.Classify(context.Background(), "5260250274", Document{
		SellerName:  "Alfa Sp. z o.o.",
		SellerTaxID: "1132191233",
		BuyerName:   "Beta S.A.",
	})

	assert.Equal(t, models.DirectionIncoming, result.Direction)
	assert.Equal(t, 0.8, result.Confidence)
	assert.Equal(t, MethodAI, result.Method)
	assert.Equal(t, 1, chat.calls)
}

func TestClassify_PromptCarriesDocumentText(t *testing.T) {
	chat := &fakeChat{response: `{"direction": "INCOMING", "confidence": 0.7, "rationale": "addressed to tenant"}`}
	classifier := NewClassifier(chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

	classifier.Classify(context.Background(), "5260250274", Document{
		SellerName: "Alfa Sp. z o.o.",
		RawText:    "FAKTURA VAT\nNabywca: Beta S.A.\nSprzedawca: Alfa Sp. z o.o.",
	})

	require.Len(t, chat.lastReq.Messages, 2)
	assert.Contains(t, chat.lastReq.Messages[1].Content, "Nabywca: Beta S.A.")
}

func TestClassify_PromptTextIsTruncated(t *testing.T) {
	chat := &fakeChat{response: `{"direction": "INCOMING", "confidence": 0.7}`}
	classifier := NewClassifier(chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

	long := strings.Repeat("x", maxExcerptLen+500)
	classifier.Classify(context.Background(), "5260250274", Document{RawText: long})

	require.Len(t, chat.lastReq.Messages, 2)
	assert.NotContains(t, chat.lastReq.Messages[1].Content, long)
	assert.Contains(t, chat.lastReq.Messages[1].Content, long[:maxExcerptLen])
}

func TestClassify_ModelFailureYieldsUnknown(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{"api error", &fakeChat{err: errors.New("timeout")}},
		{"unparseable response", &fakeChat{response: "probably incoming"}},
		{"invalid direction", &fakeChat{response: `{"direction": "SIDEWAYS", "confidence": 0.9}`}},
		{"confidence out of range", &fakeChat{response: `{"direction": "INCOMING", "confidence": 7}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewClassifier(tt.chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

			result := classifier.Classify(context.Background(), "5260250274", Document{SellerTaxID: "1132191233"})

			assert.Equal(t, models.DirectionUnknown, result.Direction)
			assert.Zero(t, result.Confidence)
			assert.Equal(t, MethodNone, result.Method)
		})
	}
}

func TestClassify_SelfInvoiceGoesToModel(t *testing.T) {
	chat := &fakeChat{response: `{"direction": "OUTGOING", "confidence": 0.6, "rationale": "self-billing"}`}
	classifier := NewClassifier(chat, Config{Model: "gpt-4o-mini"}, zap.NewNop())

	result := classifier.Classify(context.Background(), "5260250274", Document{
		SellerTaxID: "5260250274",
		BuyerTaxID:  "5260250274",
	})

	assert.Equal(t, models.DirectionOutgoing, result.Direction)
	assert.Equal(t, 1, chat.calls)
}
