// Package events publishes build progress to a socket.io endpoint so that
// dashboards and chat bots can follow long builds.
package events

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/stagegrid/internal/assembler"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultConnectTimeout bounds Dial when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 15 * time.Second

// Options configures the socket.io connection.
type Options struct {
	URL                string
	Namespace          string
	Token              string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Publisher emits every build event on a socket.io connection. The event
// name is the event type, e.g. "stage.attached".
type Publisher struct {
	client *socket.Socket
}

var _ assembler.Observer = (*Publisher)(nil)

// Dial connects to the socket.io endpoint and waits for the handshake.
func Dial(ctx context.Context, opts Options) (*Publisher, error) {
	logger := ctxlog.FromContext(ctx).With("url", opts.URL)
	logger.Debug("Connecting event publisher.")

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse events URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("events URL %q needs a scheme and a host", opts.URL)
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "/"
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	sockOpts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		sockOpts.SetPath(parsedURL.Path)
	}
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification for events.")
		sockOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	if opts.Token != "" {
		sockOpts.SetAuth(map[string]any{"token": opts.Token})
	}
	sockOpts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sockOpts)
	client := manager.Socket(namespace, sockOpts)

	client.Once(types.EventName("connect"), func(...any) {
		select {
		case connected <- nil:
		default:
		}
	})
	client.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})
	client.Connect()

	select {
	case err := <-connected:
		if err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect()
		return nil, fmt.Errorf("cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		client.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	logger.Info("Event publisher connected.", "sid", client.Id(), "namespace", namespace)
	return &Publisher{client: client}, nil
}

// Observe implements assembler.Observer.
func (p *Publisher) Observe(ctx context.Context, e assembler.Event) {
	if err := p.client.Emit(string(e.Type), Payload(e)); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to publish build event.", "event", string(e.Type), "error", err)
	}
}

// Close disconnects from the endpoint.
func (p *Publisher) Close() error {
	p.client.Disconnect()
	return nil
}

// Payload is the JSON body sent with an event.
func Payload(e assembler.Event) map[string]any {
	out := map[string]any{
		"build_id": e.BuildID,
		"workflow": e.Workflow,
		"state":    e.State.String(),
		"time":     e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.WorkflowID != "" {
		out["workflow_id"] = e.WorkflowID
		out["edit_version"] = e.EditVersion
	}
	if e.Stage >= 0 {
		out["stage"] = e.Stage
	}
	if e.StageID != "" {
		out["stage_id"] = e.StageID
	}
	if e.Artifact != "" {
		out["artifact"] = string(e.Artifact)
	}
	if e.Err != nil {
		out["error"] = e.Err.Error()
		out["failed_state"] = e.Err.State.String()
		out["last_completed"] = e.Err.LastCompleted
	}
	return out
}
