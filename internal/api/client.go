package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/mbeoliero/prolinq/internal/config"
	"github.com/mbeoliero/prolinq/pkg/errcode"
)

// Client is the REST client for the ProLinq backend
type Client struct {
	baseURL    string
	httpClient *client.Client
	token      string
}

// ClientOption is a function to configure the client
type ClientOption func(*Client)

// WithHertzClient sets a custom Hertz client
func WithHertzClient(httpClient *client.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets the authentication token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new REST client
func NewClient(cfg *config.APIConfig, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewClient(
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithClientReadTimeout(cfg.ReadTimeout),
		client.WithWriteTimeout(cfg.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// MustNewClient creates a new REST client and panics on error
func MustNewClient(cfg *config.APIConfig, opts ...ClientOption) *Client {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetToken sets the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

// GetToken returns the current token
func (c *Client) GetToken() string {
	return c.token
}

// request makes an HTTP request and decodes the response body into result.
// The backend returns plain JSON bodies, not an envelope; errors are carried
// by the HTTP status code.
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	reqURL := c.baseURL + path

	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(method)
	req.SetRequestURI(reqURL)
	req.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.SetBody(jsonBody)
	}

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return errcode.ErrFetchFailed.Wrap(err)
	}

	if err := statusError(resp.StatusCode()); err != nil {
		return err
	}

	if result != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), result); err != nil {
			return errcode.ErrMalformedPayload.Wrap(err)
		}
	}

	return nil
}

// get makes a GET request with query parameters
func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		path += "?" + query.Encode()
	}
	return c.request(ctx, consts.MethodGet, path, nil, result)
}

// post makes a POST request
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPost, path, body, result)
}

// put makes a PUT request
func (c *Client) put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPut, path, body, result)
}

// delete makes a DELETE request
func (c *Client) delete(ctx context.Context, path string) error {
	return c.request(ctx, consts.MethodDelete, path, nil, nil)
}

// statusError maps an HTTP status code to a client error class
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == consts.StatusUnauthorized:
		return errcode.ErrUnauthorized
	case status == consts.StatusForbidden:
		return errcode.ErrUnauthorized
	case status == consts.StatusNotFound:
		return errcode.ErrNotFound
	case status == consts.StatusUnprocessableEntity, status == consts.StatusBadRequest:
		return errcode.ErrInvalidParam
	default:
		return errcode.ErrFetchFailed.Wrap(fmt.Errorf("http status %d", status))
	}
}
