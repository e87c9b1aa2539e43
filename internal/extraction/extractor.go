package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
)

// forcedLowConfidence replaces the model's own score when the extracted
// amounts do not add up. A document whose totals disagree is suspect no
// matter how confident the model felt about the individual fields.
const forcedLowConfidence = 5.0

var amountTolerance = decimal.NewFromFloat(0.01)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config carries the model parameters for structured extraction
type Config struct {
	Model               string
	VisionModel         string
	Temperature         float32
	MaxTokens           int
	Timeout             time.Duration
	ConfidenceThreshold float64
	MaxRetries          int
}

// Result is the outcome of one extraction, after any retries
type Result struct {
	Invoice       *ExtractedInvoice
	Attempts      int
	Elapsed       time.Duration
	LowConfidence bool
}

// Extractor turns OCR text or a rendered page image into structured
// invoice data via a chat completion with a JSON response format
type Extractor struct {
	client chatCompleter
	config Config
	logger *zap.Logger
}

func NewExtractor(client chatCompleter, config Config, logger *zap.Logger) *Extractor {
	// a single bounded re-extraction: more attempts rarely improve the
	// result and every one is a paid model call
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxRetries > 1 {
		config.MaxRetries = 1
	}
	return &Extractor{client: client, config: config, logger: logger}
}

// FromText extracts invoice data from OCR text
func (e *Extractor) FromText(ctx context.Context, text string) (*Result, error) {
	user := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(textUserPrompt, text),
	}
	return e.extract(ctx, e.config.Model, user)
}

// FromImage extracts invoice data directly from a rendered page, for
// documents whose OCR text is too poor to extract from
func (e *Extractor) FromImage(ctx context.Context, page []byte) (*Result, error) {
	encoded := base64.StdEncoding.EncodeToString(page)
	user := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: visionUserPrompt},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + encoded,
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}
	model := e.config.VisionModel
	if model == "" {
		model = e.config.Model
	}
	return e.extract(ctx, model, user)
}

func (e *Extractor) extract(ctx context.Context, model string, user openai.ChatCompletionMessage) (*Result, error) {
	started := time.Now()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		user,
	}

	var invoice *ExtractedInvoice
	attempts := 0
	for {
		attempts++
		current, raw, err := e.attempt(ctx, model, messages)
		if err != nil {
			return nil, err
		}
		invoice = current

		if !invoice.AmountsConsistent(amountTolerance) {
			e.logger.Warn("extracted amounts inconsistent, forcing low confidence",
				zap.Float64("model_confidence", invoice.OverallConfidence))
			invoice.OverallConfidence = forcedLowConfidence
		}

		if invoice.OverallConfidence >= e.config.ConfidenceThreshold || attempts > e.config.MaxRetries {
			break
		}

		e.logger.Info("extraction confidence below threshold, retrying",
			zap.Float64("confidence", invoice.OverallConfidence),
			zap.Float64("threshold", e.config.ConfidenceThreshold),
			zap.Int("attempt", attempts))

		// feed the low-confidence result back so the retry corrects it
		// instead of starting blind
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: raw},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(retryPrompt, raw)},
		)
	}

	return &Result{
		Invoice:       invoice,
		Attempts:      attempts,
		Elapsed:       time.Since(started),
		LowConfidence: invoice.OverallConfidence < e.config.ConfidenceThreshold,
	}, nil
}

func (e *Extractor) attempt(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (*ExtractedInvoice, string, error) {
	callCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, "", apperrors.NewExternalServiceError("ai", time.Since(started), err)
	}
	if len(resp.Choices) == 0 {
		return nil, "", apperrors.NewExternalServiceError("ai", time.Since(started),
			fmt.Errorf("completion returned no choices"))
	}

	raw := resp.Choices[0].Message.Content

	var invoice ExtractedInvoice
	if err := json.Unmarshal([]byte(raw), &invoice); err != nil {
		return nil, "", fmt.Errorf("extraction response does not match schema: %w", err)
	}
	if err := invoice.Validate(); err != nil {
		return nil, "", fmt.Errorf("extraction response does not match schema: %w", err)
	}

	return &invoice, raw, nil
}
