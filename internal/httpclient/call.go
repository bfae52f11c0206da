package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Call describes one JSON request to a collaborator.
type Call struct {
	method string
	url    string
	header http.Header
	body   any
}

// Get starts a GET call. path is a format string whose %s verbs are
// filled with the path-escaped segments.
func Get(baseURL, path string, segments ...string) *Call {
	return newCall(http.MethodGet, baseURL, path, segments)
}

// Post starts a POST call; see Get for path.
func Post(baseURL, path string, segments ...string) *Call {
	return newCall(http.MethodPost, baseURL, path, segments)
}

func newCall(method, baseURL, path string, segments []string) *Call {
	args := make([]any, len(segments))
	for i, s := range segments {
		args[i] = url.PathEscape(s)
	}
	if len(args) > 0 {
		path = fmt.Sprintf(path, args...)
	}
	if path != "" {
		baseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &Call{
		method: method,
		url:    baseURL + path,
		header: make(http.Header),
	}
}

func (c *Call) Header(key, value string) *Call {
	c.header.Set(key, value)
	return c
}

// IdempotencyKey marks the call safe to retry.
func (c *Call) IdempotencyKey(key string) *Call {
	return c.Header("Idempotency-Key", key)
}

func (c *Call) JSON(body any) *Call {
	c.body = body
	return c.Header("Content-Type", "application/json")
}

// Send performs the call and decodes a 2xx body into out when out is
// non-nil. Other statuses come back as *StatusError.
func (c *Call) Send(ctx context.Context, client *Client, out any) error {
	var body io.Reader
	if c.body != nil {
		encoded, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Target: client.target, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", client.target, err)
	}
	return nil
}
