package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"petsim/internal/models"
)

const (
	maxRateLimitWait = 8 * time.Second
	maxResponseBytes = 1 << 20
)

// Options configure the completion client.
type Options struct {
	URL         string
	APIKey      string
	FolderID    string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	Temperature float64
	MaxTokens   int
	RPS         float64
}

// Client talks to the Yandex GPT completion API. After a 401 or 403 it stops
// calling out for the rest of the process.
type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	disabled   atomic.Bool
	sleep      func(ctx context.Context, d time.Duration) error
	log        *slog.Logger
}

func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.6
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 100
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		sleep:      sleepCtx,
		log:        log,
	}
	if opts.APIKey == "" || opts.FolderID == "" {
		c.disabled.Store(true)
	}
	return c
}

// Available reports whether the client will attempt remote calls.
func (c *Client) Available() bool {
	return !c.disabled.Load()
}

type completionRequest struct {
	ModelURI          string              `json:"modelUri"`
	CompletionOptions completionOptions   `json:"completionOptions"`
	Messages          []completionMessage `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type completionMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message completionMessage `json:"message"`
		} `json:"alternatives"`
	} `json:"result"`
}

// Generate asks the model for the pet's next line. An empty string with a nil
// error means no reply could be produced and the caller should fall back to
// the phrase bank. An error is returned only when ctx ends.
func (c *Client) Generate(ctx context.Context, p models.Pet, history []models.Message, isOwner bool) (string, error) {
	if c.disabled.Load() {
		return "", nil
	}
	payload, err := json.Marshal(completionRequest{
		ModelURI: fmt.Sprintf("gpt://%s/%s", c.opts.FolderID, c.opts.Model),
		CompletionOptions: completionOptions{
			Temperature: c.opts.Temperature,
			MaxTokens:   fmt.Sprint(c.opts.MaxTokens),
		},
		Messages: []completionMessage{{Role: "user", Text: Prompt(p, history, isOwner)}},
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, status, err := c.call(ctx, payload)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		last := attempt == c.opts.MaxRetries
		switch {
		case err != nil:
			c.log.Warn("completion request failed", "pet_id", p.ID, "attempt", attempt+1, "error", err)
		case status == http.StatusOK:
			if text != "" {
				return text, nil
			}
			c.log.Warn("completion returned empty text", "pet_id", p.ID, "attempt", attempt+1)
			continue
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			c.log.Error("completion api rejected credentials, disabling", "status", status)
			c.disabled.Store(true)
			return "", nil
		case status == http.StatusTooManyRequests:
			c.log.Warn("completion api rate limited", "pet_id", p.ID, "attempt", attempt+1)
			if !last {
				if err := c.sleep(ctx, c.rateLimitWait(attempt)); err != nil {
					return "", err
				}
			}
			continue
		default:
			c.log.Warn("completion api error", "pet_id", p.ID, "status", status, "attempt", attempt+1)
		}
		if !last {
			if err := c.sleep(ctx, c.opts.BaseDelay); err != nil {
				return "", err
			}
		}
	}
	c.log.Warn("completion retries exhausted", "pet_id", p.ID)
	return "", nil
}

func (c *Client) rateLimitWait(attempt int) time.Duration {
	d := c.opts.BaseDelay << uint(attempt)
	if d <= 0 || d > maxRateLimitWait {
		return maxRateLimitWait
	}
	return d
}

func (c *Client) call(ctx context.Context, payload []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", resp.StatusCode, nil
	}

	var body completionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode completion: %w", err)
	}
	if len(body.Result.Alternatives) == 0 {
		return "", resp.StatusCode, nil
	}
	return strings.TrimSpace(body.Result.Alternatives[0].Message.Text), resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
