package api

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/tejusbharadwaj/babelgas/internal/models"
)

const (
	DefaultEndpoint = "https://wp.babel-group.cn/pay/query-dept"
	DefaultTimeout  = 10 * time.Second

	upstreamHost = "wp.babel-group.cn"
	userAgent    = "HomeAssistant/BabelGas/1.0"
	referer      = "https://servicewechat.com/wxf4b325a5170f136c/51/page-frame.html"

	maxBodySize = 1 << 20
)

type queryRequest struct {
	MemberID string `json:"member_id"`
}

// Client talks to the Babel query-dept endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

type Option func(*Client)

// WithEndpoint overrides the query-dept URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient builds a Client around a shared http.Client. A nil client means
// http.DefaultClient.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient: httpClient,
		endpoint:   DefaultEndpoint,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are sent to.
func (c *Client) Endpoint() string { return c.endpoint }

// QueryDept issues exactly one query-dept request for creds.
func (c *Client) QueryDept(ctx context.Context, creds models.Credentials) (*models.AccountData, error) {
	payload, err := json.Marshal(queryRequest{MemberID: creds.MemberID})
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	setHeaders(req, creds.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := readBody(resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
		}
		return nil, &ShapeError{Detail: fmt.Sprintf("read body: %v", err)}
	}

	return decodeResponse(body)
}

// setHeaders applies the mini-program client headers the upstream expects.
func setHeaders(req *http.Request, token string) {
	req.Host = upstreamHost
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("token", token)
	req.Header.Set("content-type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)
}

// readBody undoes Content-Encoding; setting Accept-Encoding by hand turns off
// the transport's own gzip handling.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		fr := flate.NewReader(resp.Body)
		defer fr.Close()
		r = fr
	case "br":
		r = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(io.LimitReader(r, maxBodySize))
}
