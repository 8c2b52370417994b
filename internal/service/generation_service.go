package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/digkill/lookstudio/internal/apperr"
	"github.com/digkill/lookstudio/internal/kie"
	"github.com/digkill/lookstudio/internal/models"
)

const (
	maxImageInputs   = 8
	imageInputFolder = "image-inputs"
)

type ImageGenerationRequest struct {
	Model        kie.ImageModel
	Prompt       string
	AspectRatio  string
	Resolution   string
	OutputFormat string
	Inputs       []Upload
}

type ImageGenerationResult struct {
	ImageURL        string           `json:"imageUrl"`
	Model           kie.ImageModel   `json:"model"`
	Operation       models.Operation `json:"operation"`
	Cost            int              `json:"cost"`
	AvailableTokens int              `json:"availableTokens"`
}

// GenerationService proxies synchronous image and text generation. Tokens are
// charged before the provider is called and are not returned when the call fails.
type GenerationService struct {
	tokens    *TokenService
	content   ContentStore
	generator Generator
	log       *slog.Logger
}

func NewGenerationService(tokens *TokenService, content ContentStore, generator Generator, log *slog.Logger) *GenerationService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GenerationService{tokens: tokens, content: content, generator: generator, log: log}
}

func (s *GenerationService) GenerateImage(ctx context.Context, user *models.User, req ImageGenerationRequest) (*ImageGenerationResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, apperr.BadRequest("prompt cannot be empty")
	}
	if req.Model == "" {
		req.Model = kie.ModelNanoBanana
	}
	if req.Model != kie.ModelFlux2 && req.Model != kie.ModelNanoBanana {
		return nil, apperr.BadRequest("unsupported image model %q", req.Model)
	}
	if len(req.Inputs) > maxImageInputs {
		return nil, apperr.BadRequest("at most %d input images are allowed", maxImageInputs)
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if req.Resolution == "" {
		req.Resolution = "1K"
	}

	op := models.OpTextToImage
	if len(req.Inputs) > 0 {
		op = models.OpMultiModal
	}
	charge, err := s.tokens.Consume(ctx, user.ID, op, fmt.Sprintf("Image generation (%s)", req.Model))
	if err != nil {
		return nil, err
	}
	if !charge.Success {
		return nil, apperr.PaymentRequired(charge.Message, charge.Cost, charge.AvailableTokens)
	}

	inputURLs, cleanup, err := s.stageInputs(ctx, req.Inputs)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	image, err := s.generator.GenerateImage(ctx, kie.ImageRequest{
		Model:        req.Model,
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
		InputURLs:    inputURLs,
		OutputFormat: req.OutputFormat,
	})
	if err != nil {
		s.log.Error("image generation failed", "user_id", user.ID, "model", req.Model, "err", err)
		return nil, providerError(err, "image")
	}

	s.log.Info("image generated", "user_id", user.ID, "model", req.Model, "cost", charge.Cost)
	return &ImageGenerationResult{
		ImageURL:        image.URL,
		Model:           req.Model,
		Operation:       op,
		Cost:            charge.Cost,
		AvailableTokens: charge.AvailableTokens,
	}, nil
}

const (
	maxTextPrompt      = 20000
	maxTextInputs      = 4
	maxTextOutputLimit = 8192
)

type TextGenerationRequest struct {
	Model             kie.TextModel
	SystemInstruction string
	Prompt            string
	MaxOutputTokens   int
	// JSON asks for a single JSON object; the reply is checked before it is returned.
	JSON   bool
	Inputs []Upload
}

type TextGenerationResult struct {
	Text            string           `json:"text"`
	JSON            json.RawMessage  `json:"json,omitempty"`
	Model           kie.TextModel    `json:"model"`
	Operation       models.Operation `json:"operation"`
	Cost            int              `json:"cost"`
	AvailableTokens int              `json:"availableTokens"`
}

// GenerateText charges text_to_text, or image_to_text when images are
// attached, and returns the model's reply.
func (s *GenerationService) GenerateText(ctx context.Context, user *models.User, req TextGenerationRequest) (*TextGenerationResult, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, apperr.BadRequest("prompt cannot be empty")
	}
	if len(req.Prompt) > maxTextPrompt {
		return nil, apperr.BadRequest("prompt is too long")
	}
	if req.Model == "" {
		req.Model = kie.ModelGeminiFlash
	}
	if req.Model != kie.ModelGeminiFlash && req.Model != kie.ModelGeminiPro {
		return nil, apperr.BadRequest("unsupported text model %q", req.Model)
	}
	if req.MaxOutputTokens < 0 || req.MaxOutputTokens > maxTextOutputLimit {
		return nil, apperr.BadRequest("maxOutputTokens must be between 1 and %d", maxTextOutputLimit)
	}
	if len(req.Inputs) > maxTextInputs {
		return nil, apperr.BadRequest("at most %d input images are allowed", maxTextInputs)
	}

	op := models.OpTextToText
	if len(req.Inputs) > 0 {
		op = models.OpImageToText
	}
	charge, err := s.tokens.Consume(ctx, user.ID, op, fmt.Sprintf("Text generation (%s)", req.Model))
	if err != nil {
		return nil, err
	}
	if !charge.Success {
		return nil, apperr.PaymentRequired(charge.Message, charge.Cost, charge.AvailableTokens)
	}

	inputURLs, cleanup, err := s.stageInputs(ctx, req.Inputs)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	reply, err := s.generator.GenerateText(ctx, kie.TextRequest{
		Model:             req.Model,
		SystemInstruction: strings.TrimSpace(req.SystemInstruction),
		Prompt:            req.Prompt,
		ImageURLs:         inputURLs,
		MaxOutputTokens:   req.MaxOutputTokens,
		JSON:              req.JSON,
	})
	if err != nil {
		s.log.Error("text generation failed", "user_id", user.ID, "model", req.Model, "err", err)
		return nil, providerError(err, "text")
	}

	out := &TextGenerationResult{
		Text:            reply.Text,
		Model:           req.Model,
		Operation:       op,
		Cost:            charge.Cost,
		AvailableTokens: charge.AvailableTokens,
	}
	if req.JSON {
		doc := []byte(stripCodeFence(reply.Text))
		if !json.Valid(doc) {
			return nil, apperr.New(apperr.KindProviderError, "text provider returned invalid JSON")
		}
		out.JSON = doc
	}
	s.log.Info("text generated", "user_id", user.ID, "model", req.Model, "operation", op, "cost", charge.Cost)
	return out, nil
}

// stripCodeFence drops a surrounding ``` or ```json fence some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stageInputs stores uploads so the provider can fetch them. cleanup removes
// whatever was stored and must run even when err is set.
func (s *GenerationService) stageInputs(ctx context.Context, inputs []Upload) (urls []string, cleanup func(), err error) {
	urls = make([]string, 0, len(inputs))
	cleanup = func() {
		for _, url := range urls {
			if _, err := s.content.Delete(context.WithoutCancel(ctx), url); err != nil {
				s.log.Warn("delete generation input failed", "url", url, "err", err)
			}
		}
	}
	for _, in := range inputs {
		url, err := s.content.Put(ctx, in.Data, in.ContentType, imageInputFolder)
		if err != nil {
			return urls, cleanup, apperr.Wrap(apperr.KindStorageError, err, "failed to store input images")
		}
		urls = append(urls, url)
	}
	return urls, cleanup, nil
}

func providerError(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, err, what+" generation timed out")
	}
	switch kie.KindOf(err) {
	case kie.KindRateLimited:
		return apperr.Wrap(apperr.KindProviderError, err, what+" provider is rate limiting requests, try again shortly")
	case kie.KindBadRequest:
		return apperr.Wrap(apperr.KindProviderError, err, what+" provider rejected the request")
	default:
		return apperr.Wrap(apperr.KindProviderError, err, what+" provider failed")
	}
}
