package kie

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

type TextModel string

const (
	ModelGeminiFlash TextModel = "gemini-2.5-flash"
	ModelGeminiPro   TextModel = "gemini-2.5-pro"
)

// TextRequest asks a chat model for a single reply. ImageURLs turn the prompt
// into an image description request.
type TextRequest struct {
	Model             TextModel
	SystemInstruction string
	Prompt            string
	ImageURLs         []string
	MaxOutputTokens   int
	// JSON asks the model for a single JSON object.
	JSON bool
}

type TextResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// GenerateText calls the OpenAI-compatible chat completions endpoint kie
// exposes per model.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	var messages []chatMessage
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	if len(req.ImageURLs) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	} else {
		parts := []chatContentPart{{Type: "text", Text: req.Prompt}}
		for _, u := range req.ImageURLs {
			parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: u}})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	payload := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   false,
	}
	if req.MaxOutputTokens > 0 {
		payload["max_tokens"] = req.MaxOutputTokens
	}
	if req.JSON {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	path := "/" + url.PathEscape(string(req.Model)) + "/v1/chat/completions"
	raw, err := c.do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, unavailable("decode chat response: %v (body=%s)", err, truncateBody(raw))
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, &Error{Kind: KindBadRequest, Message: resp.Error.Message}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, unavailable("chat response has no content")
	}

	out := &TextResult{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if out.Model == "" {
		out.Model = string(req.Model)
	}
	c.log.Info("kie text generated", "model", out.Model, "prompt_tokens", out.PromptTokens, "completion_tokens", out.CompletionTokens)
	return out, nil
}
