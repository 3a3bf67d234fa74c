package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// apiError is the decoded body of a failed request.
type apiError struct {
	Status int
	Msg    string
	Cycle  []string
}

func (e *apiError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("server returned %d: %s (cycle %s)", e.Status, e.Msg, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Msg)
}

// do sends body (JSON-encoded when non-nil) and decodes the response into
// v when v is non-nil.
func (c *Client) do(method, path string, body, v any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var payload struct {
			Error string   `json:"error"`
			Cycle []string `json:"cycle"`
		}
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Msg: payload.Error, Cycle: payload.Cycle}
	}
	if v != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *Client) post(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}
