// Package x implements source.Client on top of the X (Twitter) API v2.
package x

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

	"relaybot/internal/source"
)

const (
	DefaultBaseURL = "https://api.twitter.com"
	defaultTimeout = 30 * time.Second
	userAgent      = "relaybot/1.0"

	// The timeline endpoint rejects max_results outside 5..100.
	minPageSize = 5
	maxPageSize = 100

	maxErrorBody = 4 << 10
)

// Config configures the client.
type Config struct {
	BearerToken string
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to the X API v2 with app-only bearer auth.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

var _ source.Client = (*Client)(nil)

// New creates a client. A bearer token is required.
func New(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	if token == "" {
		return nil, errors.New("x: bearer token is empty")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("x: invalid base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{token: token, baseURL: base, http: hc}, nil
}

// Resolve looks up an account id by handle.
func (c *Client) Resolve(ctx context.Context, handle string) (source.Account, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return source.Account{}, errors.New("x: empty handle")
	}
	var resp userResponse
	op := "resolve @" + handle
	if err := c.get(ctx, op, "/2/users/by/username/"+url.PathEscape(handle), nil, &resp); err != nil {
		var apiErr *source.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return source.Account{}, fmt.Errorf("%s: %w", op, source.ErrNotFound)
		}
		return source.Account{}, err
	}
	if resp.Data == nil || resp.Data.ID == "" {
		if len(resp.Errors) > 0 && resp.Errors[0].Detail != "" {
			return source.Account{}, fmt.Errorf("%s: %w: %s", op, source.ErrNotFound, resp.Errors[0].Detail)
		}
		return source.Account{}, fmt.Errorf("%s: %w", op, source.ErrNotFound)
	}
	return source.Account{ID: resp.Data.ID, Handle: resp.Data.Username, Name: resp.Data.Name}, nil
}

// FetchRecent returns the newest posts of an account, newest-first.
func (c *Client) FetchRecent(ctx context.Context, p source.FetchParams) ([]source.Post, error) {
	if strings.TrimSpace(p.AccountID) == "" {
		return nil, errors.New("x: empty account id")
	}
	want := p.MaxResults
	if want <= 0 {
		want = minPageSize
	}
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(min(max(want, minPageSize), maxPageSize)))
	q.Set("tweet.fields", "id,text,author_id,created_at")
	q.Set("expansions", "author_id")
	if p.SinceID != "" {
		q.Set("since_id", p.SinceID)
	}
	if !p.StartTime.IsZero() {
		q.Set("start_time", p.StartTime.UTC().Format(time.RFC3339))
	}

	var resp timelineResponse
	op := "fetch posts of " + p.AccountID
	if err := c.get(ctx, op, "/2/users/"+url.PathEscape(p.AccountID)+"/tweets", q, &resp); err != nil {
		return nil, err
	}

	posts := make([]source.Post, 0, len(resp.Data))
	for _, tw := range resp.Data {
		created, err := time.Parse(time.RFC3339, tw.CreatedAt)
		if err != nil && tw.CreatedAt != "" {
			return nil, fmt.Errorf("%s: post %s: bad created_at %q", op, tw.ID, tw.CreatedAt)
		}
		author := tw.AuthorID
		if author == "" {
			author = p.AccountID
		}
		posts = append(posts, source.Post{ID: tw.ID, Text: tw.Text, AuthorID: author, CreatedAt: created})
	}
	if len(posts) > want {
		posts = posts[:want]
	}
	return posts, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: %w", op, rateLimitFromHeader(resp.Header))
	}
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &source.APIError{Op: op, Status: resp.StatusCode, Header: resp.Header.Clone(), Body: string(body)}
		var prob problem
		if json.Unmarshal(body, &prob) == nil {
			apiErr.Title, apiErr.Detail = prob.Title, prob.Detail
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func rateLimitFromHeader(h http.Header) *source.RateLimitError {
	e := &source.RateLimitError{Limit: headerInt(h, "x-rate-limit-limit"), Remaining: headerInt(h, "x-rate-limit-remaining")}
	if reset := headerInt(h, "x-rate-limit-reset"); reset > 0 {
		e.Reset = time.Unix(int64(reset), 0)
	}
	return e
}

func headerInt(h http.Header, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(h.Get(key)))
	if err != nil {
		return -1
	}
	return v
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type userResponse struct {
	Data *struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
	Errors []problem `json:"errors"`
}

type timelineResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
}
