package deviceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/recap-app/recap/pkg/config"
)

// Client drives the on-device recording agent over its local HTTP API. The
// agent captures meeting audio and streams it to the transcription provider
// using the upload credential handed over at start.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a device agent client from config
func NewClient(cfg *config.AgentConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.CallTimeout},
	}
}

// StartRequest is the payload for starting a capture session
type StartRequest struct {
	Handle      string `json:"handle"`
	UploadToken string `json:"upload_token,omitempty"`
	UploadID    string `json:"upload_id,omitempty"`
}

// Start begins capture for a recording handle. An empty credential tells the
// agent to capture locally without streaming (uncorrelated fallback).
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	return c.post(ctx, "/v1/recordings/"+req.Handle+"/start", req)
}

// Pause suspends capture for a handle
func (c *Client) Pause(ctx context.Context, handle string) error {
	return c.post(ctx, "/v1/recordings/"+handle+"/pause", nil)
}

// Resume continues a paused capture
func (c *Client) Resume(ctx context.Context, handle string) error {
	return c.post(ctx, "/v1/recordings/"+handle+"/resume", nil)
}

// Stop ends capture and flushes remaining media to the provider
func (c *Client) Stop(ctx context.Context, handle string) error {
	return c.post(ctx, "/v1/recordings/"+handle+"/stop", nil)
}

// Cancel ends capture and discards buffered media
func (c *Client) Cancel(ctx context.Context, handle string) error {
	return c.post(ctx, "/v1/recordings/"+handle+"/cancel", nil)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("agent returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}
