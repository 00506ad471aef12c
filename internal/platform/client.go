// Package platform is the HTTP client of the remote platform API. It serves
// as the remote workflow store, the object-link resolver and the folder
// service.
//
// Every API route is a POST of a JSON object. Errors come back as
// {"error": {"type": ..., "message": ...}} and are returned as *APIError.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/session"
	"resty.dev/v3"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.dnanexus.com"

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

// APIError is an error reported by the platform.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("platform: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("platform: HTTP %d: %s: %s", e.Status, e.Type, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the platform API.
type Client struct {
	http *resty.Client
}

var _ session.Store = (*Client)(nil)

// New creates a Client. Requests are never retried: a repeated mutation would
// carry an edit-version the platform has already consumed.
func New(opts Options) *Client {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	if opts.Token != "" {
		c.SetAuthToken(opts.Token)
	}
	return &Client{http: c}
}

// Shutdown releases the underlying HTTP client. Close is taken by the
// workflow store operation.
func (c *Client) Shutdown() error {
	return c.http.Close()
}

// post sends body to route and decodes the reply into out.
func (c *Client) post(ctx context.Context, route string, body, out any) error {
	logger := ctxlog.FromContext(ctx)
	if body == nil {
		body = map[string]any{}
	}

	req := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&errorEnvelope{})
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Post(route)
	if err != nil {
		return fmt.Errorf("POST %s: %w", route, err)
	}
	logger.Debug("Platform call finished.", "route", route, "status", resp.StatusCode())
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	if env, ok := resp.Error().(*errorEnvelope); ok && env.Error.Type != "" {
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
	}
	return classify(apiErr)
}

// classify wraps API errors the session reacts to in its sentinel errors.
func classify(e *APIError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Status == http.StatusConflict,
		e.Type == "InvalidState" && strings.Contains(msg, "editversion"):
		return fmt.Errorf("%w: %w", session.ErrStaleVersion, e)
	case e.Type == "InvalidState" && strings.Contains(msg, "closed"):
		return fmt.Errorf("%w: %w", session.ErrSealed, e)
	default:
		return e
	}
}

// IsNotFound reports whether err is a platform "ResourceNotFound" error.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Type == "ResourceNotFound" || apiErr.Status == http.StatusNotFound)
}
