// Package sdk provides the client-side library for the presence service.
// It supports both a remote daemon over HTTP and a local embedded engine.
package sdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// OperatorHeader carries the acting operator on administrative requests.
const OperatorHeader = "X-Operator"

// Client is a remote client for the presence daemon.
// It implements the PresenceService interface. Reads are retried on
// transport errors and 5xx responses; writes are sent exactly once.
type Client struct {
	reads  *resty.Client
	writes *resty.Client
}

var _ PresenceService = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	retries    int
	httpClient *http.Client
}

// WithTimeout bounds every single request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithRetries sets how many times a failed read is retried.
func WithRetries(n int) ClientOption {
	return func(c *clientConfig) { c.retries = n }
}

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// NewClient creates a client for the daemon at baseURL without contacting it.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	cfg := clientConfig{timeout: 10 * time.Second, retries: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	build := func() *resty.Client {
		var rc *resty.Client
		if cfg.httpClient != nil {
			rc = resty.NewWithClient(cfg.httpClient)
		} else {
			rc = resty.New()
		}
		return rc.
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(cfg.timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
	}

	reads := build().
		SetRetryCount(cfg.retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	return &Client{reads: reads, writes: build()}
}

// Connect creates a client and checks that the daemon answers its health check.
func Connect(ctx context.Context, baseURL string, opts ...ClientOption) (*Client, error) {
	c := NewClient(baseURL, opts...)
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Ping calls GET /healthz.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/healthz", nil, nil)
	return err
}

func (c *Client) Register(ctx context.Context, fullName string) (schema.Person, error) {
	var view schema.StatusView
	_, err := c.send(ctx, http.MethodPost, "/api/register", "", map[string]string{"full_name": fullName}, &view)
	if err != nil {
		return schema.Person{}, err
	}
	return view.Person(), nil
}

func (c *Client) GetStatus(ctx context.Context, token string) (schema.Person, error) {
	var view schema.StatusView
	if _, err := c.get(ctx, "/api/status/"+url.PathEscape(token), nil, &view); err != nil {
		return schema.Person{}, err
	}
	return view.Person(), nil
}

func (c *Client) Transition(ctx context.Context, token string, req schema.TransitionRequest) (schema.Person, error) {
	var view schema.StatusView
	_, err := c.send(ctx, http.MethodPost, "/api/status/"+url.PathEscape(token), "", req, &view)
	if err != nil {
		return schema.Person{}, err
	}
	return view.Person(), nil
}

func (c *Client) AggregateCounts(ctx context.Context) (schema.Counts, error) {
	var counts schema.Counts
	_, err := c.get(ctx, "/api/stats", nil, &counts)
	return counts, err
}

func (c *Client) ListAbsent(ctx context.Context) ([]schema.AbsentPerson, error) {
	var list []schema.AbsentPerson
	_, err := c.get(ctx, "/api/absent", nil, &list)
	return list, err
}

func (c *Client) ListAll(ctx context.Context) ([]schema.RosterEntry, error) {
	var list []schema.RosterEntry
	_, err := c.get(ctx, "/api/users", nil, &list)
	return list, err
}

func (c *Client) SearchByName(ctx context.Context, query string) ([]schema.RosterEntry, error) {
	var list []schema.RosterEntry
	_, err := c.get(ctx, "/api/users/search", map[string]string{"q": query}, &list)
	return list, err
}

func (c *Client) BulkReset(ctx context.Context, actor string) (schema.ResetResult, error) {
	var res schema.ResetResult
	_, err := c.send(ctx, http.MethodPost, "/api/reset", actor, map[string]string{"actor": actor}, &res)
	return res, err
}

func (c *Client) DeletePerson(ctx context.Context, id int64, actor string) (schema.DeleteResult, error) {
	var res schema.DeleteResult
	_, err := c.send(ctx, http.MethodDelete, "/api/users/"+strconv.FormatInt(id, 10), actor, nil, &res)
	return res, err
}

func (c *Client) RecentAudit(ctx context.Context, limit int) ([]schema.AuditEntry, error) {
	var entries []schema.AuditEntry
	var params map[string]string
	if limit > 0 {
		params = map[string]string{"limit": strconv.Itoa(limit)}
	}
	_, err := c.get(ctx, "/api/audit", params, &entries)
	return entries, err
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) (*resty.Response, error) {
	req := c.reads.R().SetContext(ctx).SetError(&errorBody{})
	if params != nil {
		req.SetQueryParams(params)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	return resp, classify(resp, err, http.MethodGet, path)
}

func (c *Client) send(ctx context.Context, method, path, actor string, body, out any) (*resty.Response, error) {
	req := c.writes.R().SetContext(ctx).SetError(&errorBody{})
	if actor != "" {
		req.SetHeader(OperatorHeader, actor)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	return resp, classify(resp, err, method, path)
}

// classify turns a transport error or an error response into one of the
// shared sentinel errors.
func classify(resp *resty.Response, err error, method, path string) error {
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s %s", method, path), ErrDependency)
	}
	if !resp.IsError() {
		return nil
	}

	msg := resp.Status()
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		msg = body.Error
	}
	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return errors.Wrap(ErrValidation, msg)
	case http.StatusNotFound:
		return errors.Wrap(ErrNotFound, msg)
	default:
		return errors.Wrapf(ErrDependency, "%s %s: %s", method, path, msg)
	}
}
