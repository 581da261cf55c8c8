package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

const defaultTimeout = 60 * time.Second

// DefaultMaxAttempts bounds the retry budget for one completion request.
const DefaultMaxAttempts = 3

// minContentLength is the shortest completion accepted as a playable game
// source.
const minContentLength = 200

// engineMarker must appear in generated game code; its absence means the
// model answered with something other than a canvas game.
const engineMarker = "canvas"

// Options configures a Client.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts int
	// Sleep is called between attempts; tests inject a no-op.
	Sleep func(time.Duration)
	// OnRetry is invoked once per retried attempt, for retry accounting.
	OnRetry func()
	Logger  zerolog.Logger
}

// Usage reports provider token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is a validated text-generation response.
type Completion struct {
	Content string
	Usage   Usage
}

// RetryExhaustedError wraps the last underlying cause after the retry budget
// is spent, so callers can tell "never tried" from "exhausted retries".
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// StatusError carries the provider's HTTP-like status so retry policy can
// classify it.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, e.Body)
}

// Client wraps a chat-completion endpoint with retry/backoff and
// response-shape validation.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	maxAttempts int
	sleep       func(time.Duration)
	onRetry     func()
	logger      zerolog.Logger
}

// NewClient builds a Client. The API key is required.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("textgen: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	onRetry := opts.OnRetry
	if onRetry == nil {
		onRetry = func() {}
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		model:       model,
		baseURL:     baseURL,
		client:      client,
		maxAttempts: maxAttempts,
		sleep:       sleep,
		onRetry:     onRetry,
		logger:      opts.Logger,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// GenerateText requests a completion, retrying transient provider failures
// and rejected content with exponential backoff. Non-retryable errors (bad
// request, auth, policy) fail on the first attempt.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		completion, err := c.requestOnce(ctx, systemPrompt, userPrompt)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Msg("textgen: transient failure")
		if attempt < c.maxAttempts {
			c.onRetry()
			c.sleep(backoff(attempt))
		}
	}
	return nil, &RetryExhaustedError{Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) requestOnce(ctx context.Context, systemPrompt, userPrompt string) (*Completion, error) {
	payload := chatRequest{
		Model:       c.model,
		Temperature: 0.7,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("textgen: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("textgen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Transport errors are treated like timeouts: worth retrying.
		return nil, fmt.Errorf("textgen: request: %w", errors.Join(errTransient, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &StatusError{Status: resp.StatusCode, Body: body.Error.Message}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("textgen: decode response: %w", errors.Join(domain.ErrContentRejected, err))
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("textgen: empty choices: %w", domain.ErrContentRejected)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if err := validateContent(content); err != nil {
		return nil, err
	}
	return &Completion{
		Content: content,
		Usage: Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

// validateContent enforces the response-shape contract. Failures consume a
// retry attempt: a re-asked prompt may well succeed.
func validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("textgen: empty response: %w", domain.ErrContentRejected)
	}
	if len(content) < minContentLength {
		return fmt.Errorf("textgen: response too short (%d chars): %w", len(content), domain.ErrContentRejected)
	}
	if !strings.Contains(strings.ToLower(content), engineMarker) {
		return fmt.Errorf("textgen: response missing %q engine marker: %w", engineMarker, domain.ErrContentRejected)
	}
	return nil
}

var errTransient = errors.New("transient provider error")

// retryable classifies an error under the retry policy: rate limiting,
// timeouts and overload signals retry; content rejections retry; everything
// else (malformed input, auth, policy refusals) fails immediately.
func retryable(err error) bool {
	if errors.Is(err, errTransient) || errors.Is(err, domain.ErrContentRejected) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusServiceUnavailable, 529:
			return true
		}
	}
	return false
}

// backoff returns the exponential delay before the next attempt.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}
