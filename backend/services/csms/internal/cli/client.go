package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the control API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control api returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("control api returned %d: %s", e.Status, e.Message)
}

// HTTPDoer is the subset of *http.Client the CLI needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the CSMS control API.
type Client struct {
	baseURL string
	headers map[string]string
	client  HTTPDoer
}

// NewClient builds a client. A bearer token takes precedence over the api key.
func NewClient(baseURL, apiKey, token string, client HTTPDoer) *Client {
	headers := map[string]string{}
	switch {
	case token != "":
		headers["Authorization"] = "Bearer " + token
	case apiKey != "":
		headers["X-API-Key"] = apiKey
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  client,
	}
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do sends body as JSON and returns the raw answer. Non-2xx answers come back as *APIError
// together with the body.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return data, apiErr
	}
	return data, nil
}
