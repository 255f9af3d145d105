package pipeline

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/config"
)

// Client posts payloads to one SnapLogic pipeline task.
// There is no retry: a call either succeeds or surfaces its error.
type Client struct {
	endpoint  string
	token     string
	placement config.TokenPlacement
	http      *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The configured timeout is not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func NewClient(cfg config.PipelineConfig, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// #nosec G402 -- demo pipelines sit behind self-signed certificates; opt-in per page.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	placement := cfg.TokenPlacement
	if placement == "" {
		placement = config.TokenHeader
	}
	c := &Client{
		endpoint:  cfg.URL,
		token:     cfg.Token,
		placement: placement,
		http:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Endpoint returns the URL the client posts to, including the bearer token when it travels in the query.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse pipeline url")
	}
	if c.placement == config.TokenQuery && c.token != "" {
		q := u.Query()
		q.Set("bearer_token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Send posts req and returns the response. Any status other than 200 yields a *StatusError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := req.Encode()
	if err != nil {
		return nil, err
	}
	endpoint, err := c.Endpoint()
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, endpoint, body, contentType, c.placement == config.TokenHeader)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, &StatusError{Code: resp.StatusCode, Body: string(resp.Raw)}
	}
	return resp, nil
}

// PostJSON posts an arbitrary JSON document to endpoint, which must already carry any credentials.
// Any 2xx status counts as success.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	resp, err := c.do(ctx, endpoint, body, "application/json", false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &StatusError{Code: resp.StatusCode, Body: string(resp.Raw)}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte, contentType string, bearer bool) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create pipeline request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	if bearer && c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	// #nosec G704 -- endpoint comes from operator configuration.
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "call pipeline")
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(httpResp.Body)

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read pipeline response")
	}
	log.Debug().
		Str("component", "pipeline").
		Str("host", httpReq.URL.Host).
		Int("status", httpResp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(raw)).
		Msg("pipeline call finished")

	return &Response{StatusCode: httpResp.StatusCode, Raw: raw}, nil
}
