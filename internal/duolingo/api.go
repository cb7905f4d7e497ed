// Package duolingo observes progress on the language-learning site: the
// public profile endpoint for point totals, and page snapshots for
// in-lesson state.
package duolingo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"willsave/internal/logger"
)

// ErrUserNotFound is the error text reported for unknown usernames.
const ErrUserNotFound = "User not found, check your Duolingo username and try again"

// Response is the outcome of a progress lookup. When Error is set,
// TotalPoints is -1 and must not be trusted.
type Response struct {
	Error       string `json:"error,omitempty"`
	TotalPoints int    `json:"totalPoints"`
}

// Client reads point totals from the per-user profile endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *zap.Logger
}

// NewClient creates a client against baseURL, e.g. https://www.duolingo.com.
func NewClient(httpClient *http.Client, baseURL string, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		log:        logger.OrNop(log).Named("Duolingo API"),
	}
}

// Endpoint returns the profile URL for username.
func (c *Client) Endpoint(username string) string {
	return c.baseURL + "/users/" + url.PathEscape(username)
}

type profile struct {
	Languages json.RawMessage `json:"languages"`
}

type language struct {
	Points *int `json:"points"`
}

// GetData fetches the user's profile and sums points across languages.
// Failures are reported in Response.Error, never as a Go error.
func (c *Client) GetData(ctx context.Context, username string) Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint(username), nil)
	if err != nil {
		return failure(err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("request failed", zap.String("username", username), zap.Error(err))
		return failure(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Error("user not found", zap.String("username", username))
		return failure(ErrUserNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("unexpected status", zap.String("username", username), zap.Int("status", resp.StatusCode))
		return failure(http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(err.Error())
	}

	var p profile
	if err := json.Unmarshal(body, &p); err != nil {
		c.log.Error("unparseable response", zap.Error(err))
		return failure(fmt.Sprintf("parsererror: %v", err))
	}
	c.log.Debug("received profile", zap.String("username", username), zap.Int("bytes", len(body)))

	return Response{TotalPoints: lo.Sum(c.languagePoints(p.Languages))}
}

// languagePoints extracts per-language points. A missing or malformed
// languages field counts as no points.
func (c *Client) languagePoints(raw json.RawMessage) []int {
	if len(raw) == 0 || string(raw) == "null" {
		c.log.Error("unexpected API response: missing languages")
		return nil
	}

	var langs []language
	if err := json.Unmarshal(raw, &langs); err != nil {
		c.log.Error("unexpected API response: malformed languages", zap.Error(err))
		return nil
	}

	return lo.Map(langs, func(l language, i int) int {
		if l.Points == nil {
			c.log.Error("language missing points", zap.Int("index", i))
			return 0
		}
		return *l.Points
	})
}

func failure(reason string) Response {
	return Response{Error: reason, TotalPoints: -1}
}
