package authtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/target/booking-session/internal/errors"
)

const maxErrorBody = 4 << 10

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL   string            // Required: protected API root, e.g. https://api.example.com/v1
	Transport http.RoundTripper // Required: usually a *Transport
	Timeout   time.Duration     // Optional: defaults to 30s
}

// Client issues JSON requests against the protected API.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: base,
		http: &http.Client{Transport: opts.Transport, Timeout: timeout},
	}, nil
}

// HTTPClient exposes the underlying client for streaming or proxy use.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// DoJSON sends in (when non-nil) as JSON to path and decodes a 2xx response into
// out (when non-nil). Non-2xx responses become AppErrors.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "encode request body")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Classify(err, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnknown, "decode response body")
	}
	return nil
}

func (c *Client) resolve(path string) string {
	u := *c.base
	p, q, _ := strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(p, "/")
	u.RawQuery = q
	return u.String()
}

// statusError maps an HTTP status to the error taxonomy, using the server's
// error message when it provides one.
func statusError(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var code apperrors.ErrorCode
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		code = apperrors.ErrCodeUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		code = apperrors.ErrCodeNotFound
	case resp.StatusCode == http.StatusConflict:
		code = apperrors.ErrCodeConflict
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		code = apperrors.ErrCodeValidation
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		code = apperrors.ErrCodeNetwork
	default:
		code = apperrors.ErrCodeUnknown
	}
	return apperrors.Newf(code, "%d: %s", resp.StatusCode, msg)
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
