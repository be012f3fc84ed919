package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/sptoken/internal/shared"
	"github.com/desertthunder/sptoken/internal/token"
)

const (
	swapPath    = "/swap"
	refreshPath = "/refresh"

	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// Doer sends a request. Satisfied by [retry.Client].
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPDoer adapts a plain [http.Client] to [Doer], without retries.
type HTTPDoer struct {
	Client *http.Client
}

func (d HTTPDoer) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.Client.Do(req.WithContext(ctx))
}

// Response is the relay's JSON reply to /swap and /refresh.
type Response struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
	ExpiresIn        *int64 `json:"expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Options configures a [Client].
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Doer       Doer
	Timeout    time.Duration
	Logger     *log.Logger
}

// Client talks to the token exchange relay.
type Client struct {
	baseURL string
	doer    Doer
	timeout time.Duration
	logger  *log.Logger
}

// New creates a relay client. Without an explicit Doer, requests go through a retrying client
// wrapped around HTTPClient.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: relay url", shared.ErrMissingConfig)
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: relay url: %v", shared.ErrInvalidConfig, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	doer := opts.Doer
	if doer == nil {
		httpClient := opts.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{}
		}
		rc, err := retry.NewBackgroundClient(retry.WithHTTPClient(httpClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		doer = rc
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		doer:    doer,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}, nil
}

// SwapCode exchanges an authorization code for a token pair.
//
// code may also be a raw callback query string that already carries code=...
//
// On failure the returned record is an error sentinel and err tells transport, decode and OAuth
// failures apart.
func (c *Client) SwapCode(ctx context.Context, code string) (token.Record, error) {
	body := url.Values{"code": {code}}.Encode()
	if strings.Contains(code, "code=") {
		body = code
	}

	resp, err := c.post(ctx, swapPath, body)
	if err != nil {
		return token.NewError(err.Error()), err
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresIn == nil {
		return c.incomplete(resp)
	}

	c.logger.Debug("code swapped", "access_token", shared.Redact(resp.AccessToken), "expires_in", *resp.ExpiresIn)
	return token.New(resp.AccessToken, resp.RefreshToken, time.Duration(*resp.ExpiresIn)*time.Second, time.Time{}), nil
}

// Renew trades a refresh token for a new access token. When the relay does not rotate the refresh
// token, the one passed in is kept.
func (c *Client) Renew(ctx context.Context, refreshToken string) (token.Record, error) {
	if refreshToken == "" {
		err := shared.ErrNoRefreshToken
		return token.NewError(err.Error()), err
	}

	body := url.Values{"refresh_token": {refreshToken}}.Encode()
	resp, err := c.post(ctx, refreshPath, body)
	if err != nil {
		return token.NewError(err.Error()), err
	}

	if resp.AccessToken == "" || resp.ExpiresIn == nil {
		return c.incomplete(resp)
	}

	next := resp.RefreshToken
	if next == "" {
		next = refreshToken
	}

	c.logger.Debug("token renewed", "access_token", shared.Redact(resp.AccessToken), "rotated", resp.RefreshToken != "")
	return token.New(resp.AccessToken, next, time.Duration(*resp.ExpiresIn)*time.Second, time.Time{}), nil
}

func (c *Client) incomplete(resp *Response) (token.Record, error) {
	if resp.Error != "" {
		err := &shared.AuthenticationError{Code: resp.Error, Description: resp.ErrorDescription}
		return token.NewError(resp.Error), err
	}
	err := fmt.Errorf("%w: incomplete token response", shared.ErrDecodeFailure)
	return token.NewError("token exchange failed"), err
}

func (c *Client) post(ctx context.Context, path, form string) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", shared.ErrTransportFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrTransportFailure, err)
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: relay returned status %d", shared.ErrTransportFailure, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrDecodeFailure, err)
	}

	c.logger.Debug("relay responded", "path", path, "status", resp.StatusCode)
	return &out, nil
}

// Classify names the failure class of an error returned by [Client.SwapCode] or [Client.Renew].
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case shared.IsAuthenticationError(err):
		return "authentication"
	case errors.Is(err, shared.ErrDecodeFailure):
		return "decode"
	case errors.Is(err, shared.ErrTransportFailure):
		return "transport"
	default:
		return "unknown"
	}
}
