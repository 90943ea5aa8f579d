// Package generation is a client for an OpenAI-compatible chat completion
// service used to plan, produce and grade job deliverables.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/pkg/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Temperature    float32   `json:"temperature,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Client talks to the generation service
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries uint
	limiter    *rate.Limiter
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient creates a generation client from config
func NewClient(cfg config.GenerationConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: retries,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		log: logrus.WithField("component", "generation"),
	}
}

// Plan asks for an ordered step plan with payout shares
func (c *Client) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	var plan Plan
	if err := c.chatJSON(ctx, plannerPrompt, req, &plan); err != nil {
		return nil, err
	}
	if len(plan.Steps) == 0 {
		return nil, apperr.New(apperr.CodeExternalServiceUnavailable, "planner returned no steps")
	}
	return &plan, nil
}

// Generate produces one step's output
func (c *Client) Generate(ctx context.Context, req StepRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal step request: %w", err)
	}
	return c.chat(ctx, []message{
		{Role: "system", Content: workerPrompt},
		{Role: "user", Content: string(body)},
	}, false)
}

// Review asks a peer to check a draft
func (c *Client) Review(ctx context.Context, req ReviewRequest) (*PeerReview, error) {
	var review PeerReview
	if err := c.chatJSON(ctx, peerReviewPrompt, req, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// Assess returns the formal quality verdict for a deliverable
func (c *Client) Assess(ctx context.Context, req AssessRequest) (*Assessment, error) {
	var a Assessment
	if err := c.chatJSON(ctx, assessPrompt, req, &a); err != nil {
		return nil, err
	}
	a.Normalize()
	return &a, nil
}

func (c *Client) chatJSON(ctx context.Context, system string, req any, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	content, err := c.chat(ctx, []message{
		{Role: "system", Content: system},
		{Role: "user", Content: string(body)},
	}, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
		return apperr.Wrap(apperr.CodeExternalServiceUnavailable, err, "generation service returned malformed JSON")
	}
	return nil
}

// chat sends one completion request, retrying rate limits, 5xx responses and
// transport errors with exponential backoff.
func (c *Client) chat(ctx context.Context, messages []message, jsonMode bool) (string, error) {
	req := chatRequest{Model: c.model, Messages: messages, Temperature: 0.2}
	if jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	attempt := func() (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		return c.post(ctx, payload)
	}

	content, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.WithField("wait", wait.String()).Warnf("Generation request failed, retrying: %v", err)
		}),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeExternalServiceUnavailable, err, "generation service unavailable")
	}
	return content, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", backoff.Permanent(err)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return "", backoff.RetryAfter(secs)
		}
		return "", fmt.Errorf("status %s", resp.Status)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("status %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", backoff.Permanent(fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("response empty")
	}
	return content, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const plannerPrompt = `You plan work for a team of bots. Reply with JSON only:
{"steps":[{"bot_id":1,"role":"","output_type":"","instructions":""}],"shares":[{"bot_id":1,"share":1.0}]}
Use only bot_id values from the candidates. Shares must sum to 1.0.`

const workerPrompt = `You are a bot completing one step of a paid job. Produce the requested output only.`

const peerReviewPrompt = `You review a draft deliverable for a paid job. Reply with JSON only:
{"approved":true,"feedback":""}`

const assessPrompt = `You grade a deliverable for a paid job. Score each dimension from 0 to 10. Reply with JSON only:
{"scores":{"completeness":0,"accuracy":0,"quality":0,"domain_fit":0,"value":0},"overall":0,"pass":false,"feedback":"","issues":[]}`
