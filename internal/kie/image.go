package kie

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type ImageModel string

const (
	ModelFlux2      ImageModel = "flux-2"
	ModelNanoBanana ImageModel = "nano-banana-pro"
)

type ImageRequest struct {
	Model        ImageModel
	Prompt       string
	AspectRatio  string
	Resolution   string
	InputURLs    []string
	OutputFormat string
}

type Image struct {
	URL string `json:"url"`
}

// GenerateImage creates a market task for the requested model and waits for it.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	var payload map[string]any
	switch req.Model {
	case ModelFlux2:
		model := "flux-2/pro-text-to-image"
		input := map[string]any{
			"prompt":       req.Prompt,
			"aspect_ratio": req.AspectRatio,
			"resolution":   req.Resolution,
		}
		if len(req.InputURLs) > 0 {
			model = "flux-2/pro-image-to-image"
			input["input_urls"] = req.InputURLs
		}
		payload = map[string]any{"model": model, "input": input}
	case ModelNanoBanana:
		format := strings.ToLower(req.OutputFormat)
		if format == "" {
			format = "png"
		}
		input := map[string]any{
			"prompt":        req.Prompt,
			"aspect_ratio":  req.AspectRatio,
			"resolution":    req.Resolution,
			"output_format": format,
		}
		if len(req.InputURLs) > 0 {
			input["image_input"] = req.InputURLs
		}
		payload = map[string]any{"model": "nano-banana-pro", "input": input}
	default:
		return nil, &Error{Kind: KindBadRequest, Message: fmt.Sprintf("unsupported image model %q", req.Model)}
	}

	var created struct {
		TaskID string `json:"taskId"`
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/v1/jobs/createTask", nil, payload, &created); err != nil {
		return nil, err
	}
	if created.TaskID == "" {
		return nil, unavailable("empty taskId in response")
	}
	c.log.Info("kie image task created", "task_id", created.TaskID, "model", payload["model"])

	return c.waitImage(ctx, created.TaskID)
}

func (c *Client) waitImage(ctx context.Context, taskID string) (*Image, error) {
	query := url.Values{"taskId": {taskID}}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		var record struct {
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		}
		if _, err := c.call(ctx, http.MethodGet, "/api/v1/jobs/recordInfo", query, nil, &record); err != nil {
			return nil, err
		}

		switch record.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(record.ResultJSON), &result); err != nil {
				return nil, unavailable("parse resultJson: %v", err)
			}
			if len(result.ResultURLs) == 0 {
				return nil, unavailable("no resultUrls in result")
			}
			return &Image{URL: result.ResultURLs[0]}, nil
		case "fail":
			msg := record.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			return nil, &Error{Kind: KindBadRequest, Message: fmt.Sprintf("task failed: %s (code: %s)", msg, record.FailCode)}
		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Debug("kie image task waiting", "task_id", taskID, "attempt", attempt+1)
			}
		default:
			return nil, unavailable("unknown task state: %s", record.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, unavailable("task %s not finished after %d attempts", taskID, c.maxAttempts)
}
