// Package authtransport attaches the session's bearer credential to outbound
// requests and recovers from an expired credential by refreshing the session
// and re-issuing the request once.
package authtransport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/target/booking-session/internal/observability/metrics"
	"github.com/target/booking-session/internal/observability/statsd"
	"github.com/target/booking-session/internal/ports"
)

// drainLimit bounds how much of a discarded 401 body is read so the
// connection can be reused.
const drainLimit = 64 << 10

// DefaultMaxReplayBytes is the largest request body buffered for a retry when
// Options.MaxReplayBytes is unset.
const DefaultMaxReplayBytes = 1 << 20

type noRefreshKey struct{}

// WithoutRefresh marks ctx so a 401 is returned to the caller without
// attempting a session refresh.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRefreshKey{}, true)
}

func refreshDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRefreshKey{}).(bool)
	return v
}

// Options groups dependencies for Transport.
type Options struct {
	Base        http.RoundTripper      // Optional: defaults to http.DefaultTransport
	Credentials ports.CredentialSource // Required
	Refresher   ports.SessionRefresher // Required
	Logger      *slog.Logger           // Optional
	Metrics     statsd.Sink            // Optional
	// MaxReplayBytes caps the body buffered for a retry. Larger bodies are
	// streamed through once and a 401 on them is not retried.
	MaxReplayBytes int64 // Optional: defaults to DefaultMaxReplayBytes
}

// Transport is an http.RoundTripper implementing the retry-once protocol:
// a 401 triggers one session refresh and, if it succeeds, exactly one
// re-issue of the request with the new credential. A request is never
// retried twice, and a failed refresh returns the original 401 response.
type Transport struct {
	base        http.RoundTripper
	credentials ports.CredentialSource
	refresher   ports.SessionRefresher
	logger      *slog.Logger
	metrics     statsd.Sink
	maxReplay   int64
}

var _ http.RoundTripper = (*Transport)(nil)

// New constructs a Transport.
func New(opts Options) (*Transport, error) {
	if opts.Credentials == nil {
		return nil, errors.New("CredentialSource is required")
	}
	if opts.Refresher == nil {
		return nil, errors.New("SessionRefresher is required")
	}
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxReplay := opts.MaxReplayBytes
	if maxReplay <= 0 {
		maxReplay = DefaultMaxReplayBytes
	}
	return &Transport{
		base:        base,
		credentials: opts.Credentials,
		refresher:   opts.Refresher,
		logger:      logger.With("component", "auth_transport"),
		metrics:     opts.Metrics,
		maxReplay:   maxReplay,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out, err := replayable(req, t.maxReplay)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(t.authorize(out, out.Body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || refreshDisabled(ctx) {
		return resp, nil
	}

	body, canReplay, err := nextBody(out)
	if err != nil || !canReplay {
		t.logger.DebugContext(ctx, "401 on request without replayable body; not retrying",
			"method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	if err := t.refresher.RefreshSession(metrics.WithTrigger(ctx, metrics.TriggerTransport)); err != nil {
		t.logger.InfoContext(ctx, "session refresh after 401 failed",
			"method", req.Method, "path", req.URL.Path, "error", err)
		if body != nil {
			_ = body.Close()
		}
		return resp, nil
	}

	discard(resp)

	retried, err := t.base.RoundTrip(t.authorize(out, body))
	if err != nil {
		return nil, err
	}
	metrics.EmitTransportRetry(t.metrics, req.Method, retried.StatusCode != http.StatusUnauthorized)
	return retried, nil
}

// authorize returns a copy of req carrying body and the current bearer credential.
func (t *Transport) authorize(req *http.Request, body io.ReadCloser) *http.Request {
	r := req.Clone(req.Context())
	r.Body = body
	if token, ok := t.credentials.AccessToken(); ok {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(r)
	}
	return r
}

// replayable returns a clone of req whose body can be produced again through
// GetBody, buffering up to limit bytes in memory when the caller did not supply
// GetBody. A body larger than limit is passed through unbuffered and the clone
// has no GetBody.
func replayable(req *http.Request, limit int64) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		_ = req.Body.Close()
		return nil, err
	}
	if int64(len(buf)) > limit {
		out.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(buf), req.Body), Closer: req.Body}
		return out, nil
	}
	if err := req.Body.Close(); err != nil {
		return nil, err
	}

	out.Body = io.NopCloser(bytes.NewReader(buf))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	out.ContentLength = int64(len(buf))
	return out, nil
}

// prefixedBody re-joins the bytes already read from a body with its unread
// remainder while keeping the original Close.
type prefixedBody struct {
	io.Reader
	io.Closer
}

func nextBody(req *http.Request) (io.ReadCloser, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, true, nil
	}
	if req.GetBody == nil {
		return nil, false, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, drainLimit)
	_ = resp.Body.Close()
}
