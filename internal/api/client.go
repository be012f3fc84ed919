package api

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
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.spotify.com/v1"
	DefaultTimeout = 20 * time.Second

	maxBodySize = 4 << 20
)

// Session is the token source behind every call.
type Session interface {
	AccessToken() string
	RefreshToken() string
	// Renew performs a shared renewal and returns the new record.
	Renew(ctx context.Context) (*token.Record, error)
}

// Request describes one Web API call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is the outcome of a successful call.
type Response struct {
	Status    int
	NoContent bool
	Header    http.Header
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second, zero disables limiting
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client calls the Spotify Web API with the session's bearer token, recovering once from a 401 by
// renewing the session.
type Client struct {
	session Session
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger

	mu         sync.Mutex
	profile    *User
	generation uint64
}

func New(session Session, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	c := &Client{
		session: session,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// Do sends req and decodes a JSON body into out when out is non-nil.
//
// A 401 triggers one renewal when the session has a refresh token, then exactly one retry.
// 201 and 204 yield a NoContent response without decoding.
func (c *Client) Do(ctx context.Context, req Request, out any) (*Response, error) {
	accessToken := c.session.AccessToken()
	if accessToken == "" {
		return nil, shared.ErrSessionNotFound
	}

	status, header, body, err := c.send(ctx, req, accessToken)
	if err != nil {
		return nil, err
	}

	if unauthorized(status, body) && c.session.RefreshToken() != "" {
		c.logger.Debug("unauthorized, renewing session", "path", req.Path)
		rec, err := c.session.Renew(ctx)
		if err != nil {
			c.logger.Warn("renewal after 401 failed", "error", err)
			return nil, decodeError(status, body)
		}

		status, header, body, err = c.send(ctx, req, rec.AccessToken)
		if err != nil {
			return nil, err
		}
	}

	return decode(status, header, body, out)
}

func (c *Client) send(ctx context.Context, req Request, accessToken string) (int, http.Header, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, nil, fmt.Errorf("%w: rate limiter: %v", shared.ErrTransportFailure, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("%w: failed to encode body: %v", shared.ErrInvalidInput, err)
		}
		payload = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: failed to create request: %v", shared.ErrInvalidInput, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %v", shared.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrTransportFailure, err)
	}

	c.logger.Debug("api call", "method", method, "path", req.Path, "status", resp.StatusCode)
	return resp.StatusCode, resp.Header, body, nil
}

// errorBody is the Web API's error envelope.
type errorBody struct {
	Error *shared.RegularError `json:"error"`
}

// unauthorized reports a 401 by status line or by the status in the error envelope.
func unauthorized(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	var eb errorBody
	return status >= 400 && json.Unmarshal(body, &eb) == nil && eb.Error != nil && eb.Error.Status == http.StatusUnauthorized
}

func decode(status int, header http.Header, body []byte, out any) (*Response, error) {
	resp := &Response{Status: status, Header: header}

	switch {
	case status == http.StatusCreated || status == http.StatusNoContent:
		resp.NoContent = true
		return resp, nil
	case status < 200 || status >= 300:
		return nil, decodeError(status, body)
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDecodeFailure, err)
	}
	return resp, nil
}

func decodeError(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil && eb.Error.Message != "" {
		if eb.Error.Status == 0 {
			eb.Error.Status = status
		}
		return eb.Error
	}
	return &shared.UnsupportedStatusError{Code: status}
}

// IsUnauthorized reports whether err is a 401 from the Web API.
func IsUnauthorized(err error) bool {
	var regular *shared.RegularError
	if errors.As(err, &regular) {
		return regular.Status == http.StatusUnauthorized
	}
	var unsupported *shared.UnsupportedStatusError
	return errors.As(err, &unsupported) && unsupported.Code == http.StatusUnauthorized
}
