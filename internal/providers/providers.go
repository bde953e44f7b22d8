// Package providers wraps the two external inference services the pipeline
// depends on. Both are treated as slow, fallible collaborators: calls carry
// caller-supplied timeouts and any failure is a stage-level error, never a
// process crash.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gait-pipeline/internal/gait"
)

// PoseEstimator extracts per-frame 2D keypoints from a video reference.
type PoseEstimator interface {
	EstimatePose(ctx context.Context, videoRef string) ([]gait.Frame2D, error)
}

// Lifter lifts a 2D keypoint sequence to 3D with explicit depth.
type Lifter interface {
	Lift(ctx context.Context, frames []gait.Frame2D) ([]gait.Frame, error)
}

// HTTPPose calls a pose-extraction service over JSON/HTTP.
type HTTPPose struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPose(baseURL string, timeout time.Duration) *HTTPPose {
	return &HTTPPose{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type poseRequest struct {
	VideoRef string `json:"video_ref"`
}

type poseResponse struct {
	Frames []gait.Frame2D `json:"frames"`
}

func (p *HTTPPose) EstimatePose(ctx context.Context, videoRef string) ([]gait.Frame2D, error) {
	var resp poseResponse
	if err := postJSON(ctx, p.client, p.baseURL+"/v1/pose", poseRequest{VideoRef: videoRef}, &resp); err != nil {
		return nil, fmt.Errorf("pose estimation: %w", err)
	}
	return resp.Frames, nil
}

// HTTPLifter calls a 2D-to-3D lifting service over JSON/HTTP.
type HTTPLifter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLifter(baseURL string, timeout time.Duration) *HTTPLifter {
	return &HTTPLifter{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type liftRequest struct {
	Frames []gait.Frame2D `json:"frames"`
}

type liftResponse struct {
	Frames []gait.Frame `json:"frames"`
}

func (l *HTTPLifter) Lift(ctx context.Context, frames []gait.Frame2D) ([]gait.Frame, error) {
	var resp liftResponse
	if err := postJSON(ctx, l.client, l.baseURL+"/v1/lift", liftRequest{Frames: frames}, &resp); err != nil {
		return nil, fmt.Errorf("3d lifting: %w", err)
	}
	return resp.Frames, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
