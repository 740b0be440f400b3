// Package backend provides the REST client for the voxdesk backend's
// bootstrap API. The realtime voice traffic itself travels over the
// websocket transport; this client covers the plain HTTP surface the edge
// server needs before and around a call, such as fetching the receptionist
// profile shown while a session connects.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 10 * time.Second

// Option is a functional option for configuring the backend [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying [http.Client]. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each request. Default 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithAPIKey sets the Bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client calls the backend bootstrap API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a backend client for the given base URL (e.g.
// "https://api.example.com").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: baseURL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("backend: baseURL %q is not an absolute URL", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Service is one bookable service offered by the business.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DurationMin int    `json:"duration_min"`
	Description string `json:"description,omitempty"`
}

// Provider is one staff member calls can be booked with.
type Provider struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Profile is the receptionist configuration the backend serves to edge
// deployments.
type Profile struct {
	BusinessName string     `json:"business_name"`
	Greeting     string     `json:"greeting"`
	Voice        string     `json:"voice,omitempty"`
	Services     []Service  `json:"services"`
	Providers    []Provider `json:"providers"`
}

// Profile fetches the receptionist profile from GET /api/receptionist/profile.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "/api/receptionist/profile", &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Ping probes the backend's health endpoint. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/healthz")
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: ping: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend: ping: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("backend: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: get %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: get %s: decode: %w", path, err)
	}
	return nil
}
