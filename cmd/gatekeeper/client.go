package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Client is an HTTP client for the gatekeeper API.
type Client struct {
	addr string
	http *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("GATEKEEPER_ADDR"); v != "" {
		addr = v
	}
	return &Client{
		addr: addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.http.Do(req)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	resp, err := c.do("POST", path, body, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// getAuthed performs a GET carrying the saved access token as a bearer
// credential plus the identity it was issued to.
func (c *Client) getAuthed(path, identity string) (map[string]any, error) {
	tok, err := loadTokenRaw()
	if err != nil {
		return nil, fmt.Errorf("no saved token (run: gatekeeper access --save)")
	}
	resp, err := c.do("GET", path, nil, map[string]string{
		"Authorization":   "Bearer " + base64.RawURLEncoding.EncodeToString(tok),
		"X-Gate-Identity": identity,
	})
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		if reason, ok := result["error"].(string); ok && reason != "" {
			return nil, fmt.Errorf("%s", reason)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
