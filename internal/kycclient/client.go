package kycclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the external KYC scoring service. Its method set
// satisfies the scorer capability consumed by the check pipeline; each
// call inherits the caller's context deadline.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New creates a client. The HTTP timeout is a backstop; per-call
// deadlines come from the pipeline's context.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Health checks if the KYC service is available.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("kyc service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("kyc service unhealthy: %s", resp.Status)
	}
	return nil
}

// OCRConfidence extracts identity fields from a document image and
// returns the provider's extraction confidence in [0,1].
func (c *Client) OCRConfidence(ctx context.Context, documentURL string) (float64, error) {
	if documentURL == "" {
		return 0, fmt.Errorf("document url required")
	}
	var out struct {
		Confidence float64 `json:"confidence"`
		FieldCount int     `json:"field_count"`
	}
	if err := c.post(ctx, "/ocr", map[string]string{"document_url": documentURL}, &out); err != nil {
		return 0, err
	}
	return out.Confidence, nil
}

// FaceMatchScore compares the document portrait against a frame of the
// submitted video and returns the similarity in [0,1].
func (c *Client) FaceMatchScore(ctx context.Context, documentURL, videoURL string) (float64, error) {
	if documentURL == "" || videoURL == "" {
		return 0, fmt.Errorf("document and video urls required")
	}
	var out struct {
		Similarity    float64 `json:"similarity"`
		FacesDetected int     `json:"faces_detected"`
	}
	if err := c.post(ctx, "/face/compare", map[string]string{
		"document_url": documentURL,
		"video_url":    videoURL,
	}, &out); err != nil {
		return 0, err
	}
	if out.FacesDetected == 0 {
		return 0, fmt.Errorf("no face detected in submitted evidence")
	}
	return out.Similarity, nil
}

// DuplicateCheck searches the provider's gallery for already-registered
// identities matching this document.
func (c *Client) DuplicateCheck(ctx context.Context, studentID, documentURL string) (bool, error) {
	if documentURL == "" {
		return false, fmt.Errorf("document url required")
	}
	var out struct {
		Duplicate bool    `json:"duplicate"`
		MatchedID string  `json:"matched_id"`
		Score     float64 `json:"score"`
	}
	if err := c.post(ctx, "/duplicates/search", map[string]string{
		"student_id":   studentID,
		"document_url": documentURL,
	}, &out); err != nil {
		return false, err
	}
	return out.Duplicate, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("kyc service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kyc service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
