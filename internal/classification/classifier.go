// Package classification decides whether an invoice is incoming or
// outgoing from the tenant's point of view.
package classification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fakturo/invoice-pipeline/internal/models"
	"github.com/fakturo/invoice-pipeline/internal/nip"
)

const (
	MethodTaxIDMatch = "TAX_ID_MATCH"
	MethodAI         = "AI"
	MethodNone       = "NONE"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// maxExcerptLen caps how much recognized text goes into the prompt
const maxExcerptLen = 2000

// Document holds what the classifier looks at: the extracted party
// fields plus the recognized document text, which lets the model read
// wording like "nabywca" or "sprzedawca" when the tax ids cannot decide
type Document struct {
	DocumentNumber string
	SellerName     string
	SellerTaxID    string
	BuyerName      string
	BuyerTaxID     string
	RawText        string
}

func (d Document) excerpt() string {
	if len(d.RawText) <= maxExcerptLen {
		return d.RawText
	}
	return d.RawText[:maxExcerptLen]
}

// Result is a classification outcome. Classification never fails the
// pipeline; when neither the tax-id match nor the model can decide,
// Direction is UNKNOWN with zero confidence.
type Result struct {
	Direction  string
	Confidence float64
	Rationale  string
	Method     string
}

type Config struct {
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type Classifier struct {
	client chatCompleter
	config Config
	logger *zap.Logger
}

func NewClassifier(client chatCompleter, config Config, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, config: config, logger: logger}
}

// Classify first tries to match the tenant's own tax id against the
// invoice parties; a match is authoritative and skips the model call
// entirely. Only ambiguous documents go to the model.
func (c *Classifier) Classify(ctx context.Context, ownTaxID string, doc Document) Result {
	own, ok := nip.Normalize(ownTaxID)
	if ok {
		seller, sellerOK := nip.Normalize(doc.SellerTaxID)
		buyer, buyerOK := nip.Normalize(doc.BuyerTaxID)

		sellerIsOwn := sellerOK && seller == own
		buyerIsOwn := buyerOK && buyer == own

		switch {
		case sellerIsOwn && buyerIsOwn:
			// self-invoicing, the tax ids cannot decide
		case sellerIsOwn:
			return Result{
				Direction:  models.DirectionOutgoing,
				Confidence: 1.0,
				Rationale:  "seller tax id matches tenant",
				Method:     MethodTaxIDMatch,
			}
		case buyerIsOwn:
			return Result{
				Direction:  models.DirectionIncoming,
				Confidence: 1.0,
				Rationale:  "buyer tax id matches tenant",
				Method:     MethodTaxIDMatch,
			}
		}
	}

	return c.classifyWithModel(ctx, ownTaxID, doc)
}

type modelVerdict struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (c *Classifier) classifyWithModel(ctx context.Context, ownTaxID string, doc Document) Result {
	unknown := Result{Direction: models.DirectionUnknown, Confidence: 0, Method: MethodNone}

	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(classifySystemPrompt, ownTaxID)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(classifyUserPrompt,
				doc.SellerName, doc.SellerTaxID, doc.BuyerName, doc.BuyerTaxID,
				doc.DocumentNumber, doc.excerpt())},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Warn("classification model call failed", zap.Error(err))
		return unknown
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("classification completion returned no choices")
		return unknown
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		c.logger.Warn("classification response unparseable", zap.Error(err))
		return unknown
	}

	direction := verdict.Direction
	if direction != models.DirectionIncoming && direction != models.DirectionOutgoing {
		return unknown
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		c.logger.Warn("classification confidence out of range", zap.Float64("confidence", verdict.Confidence))
		return unknown
	}

	return Result{
		Direction:  direction,
		Confidence: verdict.Confidence,
		Rationale:  verdict.Rationale,
		Method:     MethodAI,
	}
}
