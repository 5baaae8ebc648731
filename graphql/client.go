package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/worldsio/detectbridge/rawhttp"
	"go.uber.org/zap"
)

const (
	// HeaderTokenID carries the API token id.
	HeaderTokenID = "X-Token-Id"
	// HeaderTokenValue carries the API token secret.
	HeaderTokenValue = "X-Token-Value"

	maxResponseBytes = 32 << 20
)

// Credentials authenticate requests against the upstream API.
type Credentials struct {
	TokenID    string
	TokenValue string
}

// Header returns the token headers sent with every HTTP request and WebSocket handshake.
func (c Credentials) Header() http.Header {
	header := make(http.Header)
	header.Set(HeaderTokenID, c.TokenID)
	header.Set(HeaderTokenValue, c.TokenValue)
	return header
}

// initPayload is the connection_init payload of a subscription.
func (c Credentials) initPayload() map[string]string {
	return map[string]string{
		"x-token-id":    c.TokenID,
		"x-token-value": c.TokenValue,
	}
}

// Request is a GraphQL operation.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Response is the body of a GraphQL response.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []Error         `json:"errors,omitempty"`
}

// TraceFunc receives the dumps of every HTTP exchange. The token value is redacted.
type TraceFunc func(request, response rawhttp.Dump)

// Client sends queries and mutations to a GraphQL HTTP endpoint.
type Client struct {
	endpoint   string
	creds      Credentials
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	trace      TraceFunc
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a Client for endpoint.
func NewClient(endpoint string, creds Credentials, options ...ClientOption) (*Client, error) {
	if err := validateEndpoint(endpoint, "http", "https"); err != nil {
		return nil, err
	}

	transport, err := NewTransport(TransportConfig{})
	if err != nil {
		return nil, err
	}

	client := &Client{
		endpoint:   endpoint,
		creds:      creds,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		retries:    3,
		backoff:    500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		logger:     zap.NewNop(),
	}

	for _, option := range options {
		if err := option(client); err != nil {
			return nil, fmt.Errorf("applying client option : %w", err)
		}
	}
	return client, nil
}

// WithHTTPClient replaces the HTTP client, for example to use NewTransport with a fingerprint.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = httpClient
		return nil
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(retries int) ClientOption {
	return func(c *Client) error {
		if retries < 0 {
			return fmt.Errorf("retries must not be negative, got %d", retries)
		}
		c.retries = retries
		return nil
	}
}

// WithBackoff sets the first retry delay and the cap it doubles up to.
func WithBackoff(initial, max time.Duration) ClientOption {
	return func(c *Client) error {
		if initial <= 0 || max < initial {
			return fmt.Errorf("invalid backoff %s..%s", initial, max)
		}
		c.backoff = initial
		c.maxBackoff = max
		return nil
	}
}

// WithTrace registers fn to receive every request and response dump.
func WithTrace(fn TraceFunc) ClientOption {
	return func(c *Client) error {
		c.trace = fn
		return nil
	}
}

// WithClientLogger sets the logger used for retries.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
		return nil
	}
}

// Endpoint returns the HTTP endpoint of the client.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CloseIdleConnections closes the idle keep-alive connections of the underlying HTTP client.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Do sends req and decodes the response data into out, which may be nil.
// When the response carries errors, the data is still decoded and a
// *ResponseError is returned.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling request : %w", err)
	}

	var response *Response
	delay := c.backoff
	for attempt := 0; ; attempt++ {
		var retryable bool
		response, retryable, err = c.post(ctx, body)
		if err == nil || !retryable || attempt >= c.retries {
			break
		}

		c.logger.Warn("retrying graphql request",
			zap.String("operation", req.OperationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, c.maxBackoff)
	}
	if err != nil {
		return err
	}

	if out != nil && len(response.Data) > 0 && string(response.Data) != "null" {
		if err := json.Unmarshal(response.Data, out); err != nil {
			return fmt.Errorf("decoding %s data : %w", operationLabel(req), err)
		}
	}

	if len(response.Errors) > 0 {
		return &ResponseError{Errors: response.Errors}
	}
	return nil
}

// post performs one attempt and reports whether its failure is transient.
func (c *Client) post(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request : %w", err)
	}
	httpReq.Header = c.creds.Header()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	var reqDump rawhttp.Dump
	if c.trace != nil {
		reqDump, err = rawhttp.DumpRequest(httpReq, HeaderTokenValue)
		if err != nil {
			return nil, false, err
		}
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("posting to %s : %w", c.endpoint, err)
	}
	defer res.Body.Close()

	if c.trace != nil {
		resDump, err := rawhttp.DumpResponse(res)
		if err == nil {
			c.trace(reqDump, resDump)
		}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("reading response : %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		httpErr := &HTTPError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Body:       rawhttp.PrettyBody(data),
		}
		return nil, httpErr.Temporary(), httpErr
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, false, fmt.Errorf("decoding response : %w", err)
	}
	return &response, false, nil
}

func operationLabel(req Request) string {
	if req.OperationName != "" {
		return req.OperationName
	}
	return "operation"
}

func validateEndpoint(endpoint string, schemes ...string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w %q : %v", ErrInvalidEndpoint, endpoint, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w %q : expected scheme %v", ErrInvalidEndpoint, endpoint, schemes)
}
