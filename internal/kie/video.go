package kie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxDownloadBytes caps a single rendered video held in memory.
const maxDownloadBytes = 512 << 20

type VideoRequest struct {
	Model              string
	Prompt             string
	AspectRatio        string
	Resolution         string
	InputImageURL      string
	EndImageURL        string
	ReferenceImageURLs []string
	DurationSeconds    int
	GenerateAudio      bool
}

type VideoState int

const (
	VideoRunning VideoState = iota
	VideoSucceeded
	VideoFailed
)

// VideoResult is a snapshot of a render. ResultURL is set once State is
// VideoSucceeded; Message explains a VideoFailed state.
type VideoResult struct {
	State     VideoState
	ResultURL string
	Message   string
	Raw       json.RawMessage
}

// StartVideo submits a Veo render and returns the provider task id.
// Reference images cannot be combined with a first frame.
func (c *Client) StartVideo(ctx context.Context, req VideoRequest) (string, error) {
	if req.InputImageURL != "" && len(req.ReferenceImageURLs) > 0 {
		return "", &Error{Kind: KindBadRequest, Message: "reference images cannot be combined with an initial image"}
	}
	payload := map[string]any{
		"prompt":         req.Prompt,
		"model":          req.Model,
		"aspectRatio":    req.AspectRatio,
		"enableFallback": false,
		"generateAudio":  req.GenerateAudio,
	}
	if req.Resolution != "" {
		payload["resolution"] = req.Resolution
	}
	if req.DurationSeconds > 0 {
		payload["durationSeconds"] = req.DurationSeconds
	}
	switch {
	case req.InputImageURL != "" && req.EndImageURL != "":
		payload["imageUrls"] = []string{req.InputImageURL, req.EndImageURL}
		payload["generationType"] = "FIRST_AND_LAST_FRAMES_2_VIDEO"
	case len(req.ReferenceImageURLs) > 0:
		payload["imageUrls"] = req.ReferenceImageURLs
		payload["generationType"] = "REFERENCE_2_VIDEO"
	case req.InputImageURL != "":
		payload["imageUrls"] = []string{req.InputImageURL}
	}

	var created struct {
		TaskID string `json:"taskId"`
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/v1/veo/generate", nil, payload, &created); err != nil {
		return "", err
	}
	if created.TaskID == "" {
		return "", unavailable("empty taskId in response")
	}
	c.log.Info("kie video task created", "task_id", created.TaskID, "model", req.Model)
	return created.TaskID, nil
}

// VideoStatus reports the state of a render. For 1080p requests the upscaled
// file is preferred when the provider has it ready.
func (c *Client) VideoStatus(ctx context.Context, taskID, resolution string) (*VideoResult, error) {
	var record struct {
		SuccessFlag int `json:"successFlag"`
		Response    struct {
			ResultURLs []string `json:"resultUrls"`
		} `json:"response"`
		ErrorCode    any    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	raw, err := c.call(ctx, http.MethodGet, "/api/v1/veo/record-info", url.Values{"taskId": {taskID}}, nil, &record)
	if err != nil {
		return nil, err
	}

	res := &VideoResult{Raw: raw}
	switch record.SuccessFlag {
	case 0:
		res.State = VideoRunning
	case 1:
		if len(record.Response.ResultURLs) == 0 {
			return nil, unavailable("render %s finished without result urls", taskID)
		}
		res.State = VideoSucceeded
		res.ResultURL = record.Response.ResultURLs[0]
		if resolution == "1080p" {
			if hd, err := c.fullHD(ctx, taskID); err != nil {
				c.log.Warn("1080p video not available, using default render", "task_id", taskID, "err", err)
			} else if hd != "" {
				res.ResultURL = hd
			}
		}
	default:
		res.State = VideoFailed
		res.Message = strings.TrimSpace(record.ErrorMessage)
		if res.Message == "" {
			res.Message = fmt.Sprintf("render failed (flag %d)", record.SuccessFlag)
		}
	}
	return res, nil
}

func (c *Client) fullHD(ctx context.Context, taskID string) (string, error) {
	var data struct {
		ResultURL string `json:"resultUrl"`
	}
	if _, err := c.call(ctx, http.MethodGet, "/api/v1/veo/get-1080p-video", url.Values{"taskId": {taskID}, "index": {"0"}}, nil, &data); err != nil {
		return "", err
	}
	return data.ResultURL, nil
}

// Download fetches a rendered file from its temporary location.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", unavailable("download %s: %v", fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", newStatusError(resp.StatusCode, truncateBody(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", unavailable("read download: %v", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", unavailable("download exceeds %d bytes", maxDownloadBytes)
	}
	if len(data) == 0 {
		return nil, "", unavailable("downloaded file is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}
