// Package backend is the typed HTTP client for the portal backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

// ErrUnauthorized is returned when the backend rejects the credential.
// The local credential state is invalidated before it is returned.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the portal backend. One-shot requests run on a
// bounded-timeout client; the chat stream runs on an unbounded client
// and ends when the request context is cancelled or the body is closed.
type Client struct {
	baseURL      string
	session      *auth.Session
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a backend client authenticating with the given session.
func NewClient(baseURL string, session *auth.Session, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		session:      session,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamChat opens a chat stream. On success the returned body delivers
// the event lines for decoding; the caller owns it and must close it.
func (c *Client) StreamChat(ctx context.Context, req *domain.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, c.apiError(resp.StatusCode, respBody)
	}

	return resp.Body, nil
}

// StartPipeline submits a pipeline run and returns the backend's ack with
// the assigned pipeline id.
func (c *Client) StartPipeline(ctx context.Context, name, query string) (*domain.PipelineRunAck, error) {
	body, err := json.Marshal(&domain.PipelineRunRequest{PipelineName: name, Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pipelines/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp.StatusCode, respBody)
	}

	var ack domain.PipelineRunAck
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if ack.PipelineID == "" {
		return nil, fmt.Errorf("backend returned no pipeline id")
	}

	return &ack, nil
}

// ListSpecialists retrieves the specialist roster.
func (c *Client) ListSpecialists(ctx context.Context) ([]domain.Specialist, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/specialists", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp.StatusCode, respBody)
	}

	var result []domain.Specialist
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result, nil
}

// ListPipelines retrieves the pipeline roster.
func (c *Client) ListPipelines(ctx context.Context) ([]domain.PipelineInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/pipelines", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp.StatusCode, respBody)
	}

	var result []domain.PipelineInfo
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result, nil
}

// apiError turns a non-2xx response into an error. A 401 invalidates the
// credential session and maps to ErrUnauthorized.
func (c *Client) apiError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	if statusCode == http.StatusUnauthorized {
		c.session.Invalidate()
		if msg == "" {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}

	return fmt.Errorf("backend error [%d]: %s", statusCode, msg)
}

// setHeaders sets common request headers, including the bearer credential
// when one is present.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if token, ok := c.session.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
