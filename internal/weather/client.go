package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNoAPIKey     = errors.New("openweather api key not configured")
	ErrUnauthorized = errors.New("openweather rejected the api key")
	ErrRateLimited  = errors.New("openweather rate limit hit")
)

const maxResponseBytes = 1 << 20

// Client calls the OpenWeather current-weather endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client with a per-request timeout and an in-process
// request rate of rps (burst 1). rps <= 0 disables the limiter.
func NewClient(baseURL, apiKey string, timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type currentWeather struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// Fetch returns the current weather at (lat, lon).
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (Report, error) {
	if c.apiKey == "" {
		return Report{}, ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Report{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Report{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Report{}, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return Report{}, ErrRateLimited
	case resp.StatusCode >= http.StatusBadRequest:
		return Report{}, fmt.Errorf("fetch weather: status %d", resp.StatusCode)
	}

	var body currentWeather
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("decode weather: %w", err)
	}
	if len(body.Weather) == 0 {
		return Report{}, errors.New("decode weather: no conditions in response")
	}
	desc := strings.TrimSpace(body.Weather[0].Main + " " + body.Weather[0].Description)
	return Report{
		Category:    Categorize(desc),
		Description: desc,
		Temp:        body.Main.Temp,
	}, nil
}
