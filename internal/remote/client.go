package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/medstudy/internal/auth"
	"github.com/conorfennell/medstudy/internal/domain"
	"github.com/conorfennell/medstudy/internal/request"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 250 * time.Millisecond
	defaultMaxDelay   = 2 * time.Second
	maxErrorBody      = 4 << 10
)

// Client talks to the session service over JSON/HTTP.
type Client struct {
	baseURL    string
	http       *http.Client
	tokens     auth.TokenProvider
	signal     *auth.Signal
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var _ Service = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTokenProvider attaches a bearer token to every call.
func WithTokenProvider(tp auth.TokenProvider) ClientOption {
	return func(c *Client) { c.tokens = tp }
}

// WithAuthSignal publishes on s whenever the service answers 401 or 403.
func WithAuthSignal(s *auth.Signal) ClientOption {
	return func(c *Client) { c.signal = s }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the retry budget for idempotent calls. maxRetries of 0
// disables retrying.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) StartQuiz(ctx context.Context, req StartQuizRequest) (*QuizStart, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var out QuizStart
	if err := c.do(ctx, http.MethodPost, "/api/quiz/sessions", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	path := "/api/quiz/sessions/" + url.PathEscape(req.SessionID) + "/answers"
	var out AnswerResult
	if err := c.do(ctx, http.MethodPost, path, req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FlagQuestion(ctx context.Context, req FlagRequest) error {
	if err := Validate(req); err != nil {
		return err
	}
	path := "/api/quiz/sessions/" + url.PathEscape(req.SessionID) + "/flags/" + url.PathEscape(req.ItemID)
	return c.do(ctx, http.MethodPut, path, req, nil, true)
}

func (c *Client) CompleteQuiz(ctx context.Context, sessionID string) (*QuizCompletion, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	path := "/api/quiz/sessions/" + url.PathEscape(sessionID) + "/complete"
	var out QuizCompletion
	if err := c.do(ctx, http.MethodPost, path, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartStudy(ctx context.Context, req StartStudyRequest) (*StudyStart, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var out StudyStart
	if err := c.do(ctx, http.MethodPost, "/api/study/sessions", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitReview(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	var out ReviewResult
	// A review is logged on every call, so it is never retried blindly.
	if err := c.do(ctx, http.MethodPost, "/api/study/reviews", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) NextDueCard(ctx context.Context, req NextCardRequest) (*domain.Item, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("deck", req.Deck)
	if req.SessionID != "" {
		q.Set("session", req.SessionID)
	}
	for _, id := range req.Exclude {
		q.Add("exclude", id)
	}
	var out struct {
		Card *domain.Item `json:"card"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/study/next?"+q.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	return out.Card, nil
}

func (c *Client) SubmitBulkReviews(ctx context.Context, reqs []ReviewRequest) (*BulkReviewResult, error) {
	if err := ValidateAll(reqs); err != nil {
		return nil, err
	}
	body := struct {
		Reviews []ReviewRequest `json:"reviews"`
	}{Reviews: reqs}
	var out BulkReviewResult
	if err := c.do(ctx, http.MethodPost, "/api/study/reviews/bulk", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDecks(ctx context.Context, page, pageSize int) (request.Page[Deck], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out request.Page[Deck]
	if err := c.do(ctx, http.MethodGet, "/api/decks?"+q.Encode(), nil, &out, true); err != nil {
		return request.Page[Deck]{}, err
	}
	return out, nil
}

// do performs one call, retrying idempotent calls on retryable failures.
func (c *Client) do(ctx context.Context, method, path string, in, out any, idempotent bool) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	retries := 0
	if idempotent {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == retries {
			return lastErr
		}
		c.logger.Warn("Retrying session service call", "method", method, "path", path, "attempt", attempt+1, "error", lastErr)
		if err := c.sleepWithBackoff(ctx, attempt); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		if errors.Is(se, ErrUnauthorized) && c.signal != nil {
			c.signal.Publish()
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var wire struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &wire) == nil && wire.Error != "" {
		return wire.Error
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) sleepWithBackoff(ctx context.Context, attempt int) error {
	delay := c.baseDelay * time.Duration(1<<attempt)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	if delay > 0 {
		delay += rand.N(delay/2 + 1)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
