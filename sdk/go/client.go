package specloomsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Specloom HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Manifest mirrors the API manifest document (partial).
type Manifest struct {
	Version  string    `json:"version"`
	MetaSpec MetaSpec  `json:"metaSpec"`
	SubSpecs []SubSpec `json:"subSpecs"`
}

// MetaSpec is the root spec record.
type MetaSpec struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Scheduled bool   `json:"scheduled"`
}

// SubSpec is one unit of parallel work.
type SubSpec struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Depends  []string          `json:"depends"`
	Phases   map[string]string `json:"phases"`
	Branch   string            `json:"branch"`
	Worktree *string           `json:"worktree"`
}

// Ready is the readiness listing for one phase.
type Ready struct {
	Phase string   `json:"phase"`
	Ready []string `json:"ready"`
	Next  string   `json:"next,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health checks the service.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.path("health"), nil)
}

// Manifest fetches the full manifest document.
func (c *Client) Manifest(ctx context.Context) (Manifest, error) {
	var resp Manifest
	err := c.do(ctx, http.MethodGet, c.path("manifest"), &resp)
	return resp, err
}

// ReadyForPhase returns the sub-specs ready to enter a phase.
func (c *Client) ReadyForPhase(ctx context.Context, phase string) (Ready, error) {
	var resp Ready
	endpoint := c.path(fmt.Sprintf("phases/%s/ready", url.PathEscape(phase)))
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp, err
}

// AllComplete reports whether every sub-spec completed a phase.
func (c *Client) AllComplete(ctx context.Context, phase string) (bool, error) {
	var resp struct {
		Complete bool `json:"complete"`
	}
	endpoint := c.path(fmt.Sprintf("phases/%s/complete", url.PathEscape(phase)))
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp.Complete, err
}

// Summary returns the rendered manifest summary.
func (c *Client) Summary(ctx context.Context) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	err := c.do(ctx, http.MethodGet, c.path("summary"), &resp)
	return resp.Summary, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) path(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		base = "v0"
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
