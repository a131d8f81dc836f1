package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// operatorClient issues session-authenticated requests against the control
// plane and pretty-prints the responses.
type operatorClient struct {
	http    *http.Client
	baseURL string
	token   string
	out     io.Writer
}

func newOperatorClient(baseURL, token string) (*operatorClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required (--api or XNODED_API)")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("session token is required (XNODED_SESSION_TOKEN)")
	}

	return &operatorClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		token:   token,
		out:     os.Stdout,
	}, nil
}

func (c *operatorClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *operatorClient) get(ctx context.Context, path string, query url.Values) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *operatorClient) do(req *http.Request) error {
	req.Header.Set("X-Parse-Session-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	_, err = fmt.Fprintln(c.out, strings.TrimSpace(string(data)))
	return err
}
