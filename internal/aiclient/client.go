// Package aiclient issues generation requests to the configured
// OpenAI-compatible chat endpoint, with admission control against the
// ledger, bounded retries with jittered exponential backoff, and failure
// classification into health categories.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
	"github.com/b89k57w62/discourse-ai-replier/internal/health"
)

// Fixed sampling parameters; these are properties of the client, not of the
// caller.
const (
	temperature      = 0.7
	topP             = 0.9
	frequencyPenalty = 0.3
	presencePenalty  = 0.3

	testConnectionTimeout   = 5 * time.Second
	testConnectionMaxTokens = 5
)

// ErrNotAdmitted means the local hourly quota had no free slot. This is a
// soft skip: no network activity happened and nothing was recorded as a
// failure.
var ErrNotAdmitted = errors.New("request not admitted by rate limiter")

// ConfigError reports generation configuration that is missing before any
// I/O is attempted.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "generation API not configured: missing " + strings.Join(e.Missing, ", ")
}

// APIError is a classified failure from the generation endpoint.
type APIError struct {
	Category health.Category
	Status   int // zero for transport errors
	Detail   string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("api error (%s, status %d): %s", e.Category, e.Status, e.Detail)
	}
	return fmt.Sprintf("api error (%s): %s", e.Category, e.Detail)
}

// Admitter is the slice of the ledger the client needs.
type Admitter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Recorder is the slice of the health monitor the client needs.
type Recorder interface {
	RecordSuccess(ctx context.Context, category health.Category)
	RecordFailure(ctx context.Context, category health.Category, detail string)
}

// Client is the generation client.
type Client struct {
	cfg    *config.Config
	http   *http.Client
	ledger Admitter
	health Recorder

	// sleep is injectable so tests can observe backoff without waiting.
	sleep func(time.Duration)
}

// New creates a Client. The connection-establishment timeout is half the
// request timeout.
func New(cfg *config.Config, ledger Admitter, monitor Recorder) *Client {
	timeout := cfg.RequestTimeout()
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: timeout / 2}).DialContext,
			},
		},
		ledger: ledger,
		health: monitor,
		sleep:  time.Sleep,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a reply for the given prompt. Failures are classified,
// recorded with the health monitor and returned as typed errors; callers
// treat any error as "no content".
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.validateConfig(); err != nil {
		return "", err
	}

	admitted, err := c.ledger.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("rate limit check: %w", err)
	}
	if !admitted {
		log.Printf("[aiclient] rate limit exceeded, skipping request")
		return "", ErrNotAdmitted
	}

	body, err := c.requestWithRetry(ctx, c.buildBody(prompt, 0))
	if err != nil {
		// The reserved slot is only consumed by a completed HTTP exchange.
		if relErr := c.ledger.Release(ctx); relErr != nil {
			log.Printf("[aiclient] releasing quota slot failed: %v", relErr)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.health.RecordFailure(ctx, apiErr.Category, apiErr.Detail)
		}
		return "", err
	}

	content, err := extractContent(body)
	if err != nil {
		log.Printf("[aiclient] empty response from API")
		c.health.RecordFailure(ctx, health.CategoryEmptyResponse, "empty response from API")
		return "", err
	}

	c.health.RecordSuccess(ctx, health.CategoryAPIRequest)
	return content, nil
}

// TestConnection probes the endpoint with a tiny request and a short
// timeout; it reports reachability, nothing else.
func (c *Client) TestConnection(ctx context.Context) bool {
	if err := c.validateConfig(); err != nil {
		log.Printf("[aiclient] connection test failed: %v", err)
		return false
	}

	probe := &http.Client{Timeout: testConnectionTimeout}
	req, err := c.newRequest(ctx, c.buildBody("Test", testConnectionMaxTokens))
	if err != nil {
		return false
	}

	resp, err := probe.Do(req)
	if err != nil {
		log.Printf("[aiclient] connection test failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

func (c *Client) validateConfig() error {
	var missing []string
	if c.cfg.API.Key == "" {
		missing = append(missing, "API key")
	}
	if c.cfg.API.URL == "" {
		missing = append(missing, "API URL")
	}
	if c.cfg.API.Model == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

func (c *Client) buildBody(prompt string, maxTokens int) []byte {
	body, _ := json.Marshal(chatRequest{
		Model: c.cfg.API.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.Replier.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:      temperature,
		TopP:             topP,
		FrequencyPenalty: frequencyPenalty,
		PresencePenalty:  presencePenalty,
		MaxTokens:        maxTokens,
	})
	return body
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.API.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.API.Key)
	return req, nil
}

// requestWithRetry runs the HTTP exchange. Transport errors and 5xx
// responses are transient and retried with exponential backoff plus a
// random fraction of a second; definitive client errors surface
// immediately. The returned bytes are the body of a 2xx response.
func (c *Client) requestWithRetry(ctx context.Context, reqBody []byte) ([]byte, error) {
	maxRetries := c.cfg.API.MaxRetries

	var lastErr *APIError
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := c.newRequest(ctx, reqBody)
		if err != nil {
			return nil, &APIError{Category: health.CategoryAPIRequest, Detail: err.Error()}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = &APIError{Category: health.CategoryAPINetwork, Detail: err.Error()}
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = &APIError{Category: health.CategoryAPINetwork, Detail: readErr.Error()}
			} else {
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					return body, nil
				case resp.StatusCode == http.StatusUnauthorized:
					log.Printf("[aiclient] invalid API key")
					return nil, &APIError{Category: health.CategoryAPIAuth, Status: resp.StatusCode, Detail: "invalid API key"}
				case resp.StatusCode == http.StatusTooManyRequests:
					log.Printf("[aiclient] API rate limit exceeded")
					return nil, &APIError{Category: health.CategoryAPIRateLimit, Status: resp.StatusCode, Detail: "API rate limit"}
				case resp.StatusCode >= 500:
					lastErr = &APIError{
						Category: health.CategoryAPIServer,
						Status:   resp.StatusCode,
						Detail:   fmt.Sprintf("server error %d", resp.StatusCode),
					}
				default:
					return nil, &APIError{
						Category: health.CategoryAPIRequest,
						Status:   resp.StatusCode,
						Detail:   fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)),
					}
				}
			}
		}

		if attempt < maxRetries {
			wait := time.Duration(1<<attempt)*time.Second +
				time.Duration(rand.Float64()*float64(time.Second))
			log.Printf("[aiclient] retrying after %v (attempt %d/%d)", wait, attempt, maxRetries)
			c.sleep(wait)
		}
	}

	return nil, lastErr
}

func extractContent(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &APIError{Category: health.CategoryEmptyResponse, Detail: "malformed response body"}
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Category: health.CategoryEmptyResponse, Detail: "no choices in response"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &APIError{Category: health.CategoryEmptyResponse, Detail: "empty completion"}
	}
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
