// Package client is the Go client of the timeline HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"timeline/internal/errors"
	"timeline/shared/types"
)

// DefaultURL is where a locally started service listens.
const DefaultURL = "http://127.0.0.1:8080"

type Client struct {
	baseURL    string
	httpClient *http.Client
	healthGate bool
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHealthGate makes every call check /healthcheck first and fail with
// SERVICE_UNAVAILABLE when the service does not answer.
func WithHealthGate() Option {
	return func(c *Client) { c.healthGate = true }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Second * 120,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the service is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	var health types.HealthResponse
	if err := c.send(ctx, http.MethodGet, "/healthcheck", nil, nil, &health); err != nil {
		return err
	}
	if health.Status != "healthy" {
		return errors.Unavailable(fmt.Sprintf("service reports %q", health.Status), nil)
	}
	return nil
}

func (c *Client) Commit(ctx context.Context, req types.CommitRequest) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := c.do(ctx, http.MethodPost, "/commit", nil, req, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Restore asks the service to write a checkpoint back to req.FilePath.
func (c *Client) Restore(ctx context.Context, req types.RestoreRequest) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := c.do(ctx, http.MethodPost, "/restore", nil, req, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Checkpoints lists the history of branch, or of the active branch when
// branch is empty. A zero limit returns everything.
func (c *Client) Checkpoints(ctx context.Context, dbPath, branch string, limit int) ([]types.Checkpoint, error) {
	path := "/checkpoints/" + url.PathEscape(dbPath)
	if branch != "" {
		path += "/" + escapeBranch(branch)
	}
	var cps []types.Checkpoint
	if err := c.do(ctx, http.MethodGet, path, limitQuery(limit), nil, &cps); err != nil {
		return nil, err
	}
	return cps, nil
}

// Log lists every checkpoint of the repository, newest first.
func (c *Client) Log(ctx context.Context, dbPath string, limit int) ([]types.Checkpoint, error) {
	var cps []types.Checkpoint
	if err := c.do(ctx, http.MethodGet, "/log/"+url.PathEscape(dbPath), limitQuery(limit), nil, &cps); err != nil {
		return nil, err
	}
	return cps, nil
}

// LatestCommit returns the head hash of branch (or the active branch), or
// "" when it has no checkpoints.
func (c *Client) LatestCommit(ctx context.Context, dbPath, branch string) (string, error) {
	var query url.Values
	if branch != "" {
		query = url.Values{"branch": {branch}}
	}
	var hash string
	if err := c.do(ctx, http.MethodGet, "/latest-commit/"+url.PathEscape(dbPath), query, nil, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Diff compares two checkpoints as text. Empty to means the active branch's
// head, empty from means the parent of to, and a negative contextLines uses
// the service default.
func (c *Client) Diff(ctx context.Context, dbPath, from, to string, contextLines int) (*types.Diff, error) {
	query := url.Values{}
	if from != "" {
		query.Set("from", from)
	}
	if to != "" {
		query.Set("to", to)
	}
	if contextLines >= 0 {
		query.Set("context", strconv.Itoa(contextLines))
	}
	var d types.Diff
	if err := c.do(ctx, http.MethodGet, "/diff/"+url.PathEscape(dbPath), query, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Branches(ctx context.Context, dbPath string) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/branches/"+url.PathEscape(dbPath), nil, nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) CurrentBranch(ctx context.Context, dbPath string) (string, error) {
	var name string
	if err := c.do(ctx, http.MethodGet, "/branches/current/"+url.PathEscape(dbPath), nil, nil, &name); err != nil {
		return "", err
	}
	return name, nil
}

func (c *Client) NewBranch(ctx context.Context, req types.BranchRequest) (*types.Branch, error) {
	var b types.Branch
	if err := c.do(ctx, http.MethodPost, "/branches/new", nil, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) SwitchBranch(ctx context.Context, req types.BranchRequest) (*types.Branch, error) {
	var b types.Branch
	if err := c.do(ctx, http.MethodPost, "/branches/switch", nil, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) Info(ctx context.Context, dbPath string) (*types.RepositoryInfo, error) {
	var info types.RepositoryInfo
	if err := c.do(ctx, http.MethodGet, "/info/"+url.PathEscape(dbPath), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetConfig(ctx context.Context, dbPath, key string) (string, error) {
	var value string
	path := "/config/" + url.PathEscape(dbPath) + "/" + url.PathEscape(key)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &value); err != nil {
		return "", err
	}
	return value, nil
}

func (c *Client) SetConfig(ctx context.Context, req types.ConfigRequest) (*types.ConfigValue, error) {
	var v types.ConfigValue
	if err := c.do(ctx, http.MethodPost, "/config", nil, req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.healthGate {
		if err := c.Health(ctx); err != nil {
			if errors.Is(err, errors.ErrorTypeUnavailable) {
				return err
			}
			return errors.Unavailable("health check failed", err)
		}
	}
	return c.send(ctx, method, path, query, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.ValidationError("encoding request", map[string]string{"error": err.Error()})
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.ValidationError("building request", map[string]string{"error": err.Error()})
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Unavailable("timeline service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Internal("decoding response", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var e errors.Error
	if err := json.Unmarshal(data, &e); err != nil || e.Type == "" {
		e = *errors.Internal(fmt.Sprintf("unexpected status: %s", resp.Status), nil)
		if resp.StatusCode == http.StatusServiceUnavailable {
			e = *errors.Unavailable(fmt.Sprintf("unexpected status: %s", resp.Status), nil)
		}
	}
	e.Code = resp.StatusCode
	return &e
}

// escapeBranch escapes each segment of a branch name, keeping the slashes
// that the route's trailing wildcard expects.
func escapeBranch(name string) string {
	u := url.URL{Path: name}
	return u.EscapedPath()
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}
