package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpTimeout bounds a single backing-endpoint call.
const httpTimeout = 30 * time.Second

// HTTPHandler executes a tool by calling a configured HTTP endpoint.
// GET requests encode arguments as query parameters; every other method
// sends them as a JSON body. The raw response body is returned as text.
type HTTPHandler struct {
	URL     string
	Method  string
	Headers map[string]string

	client *http.Client
}

// NewHTTPHandler constructs an HTTPHandler with the fixed call timeout.
func NewHTTPHandler(rawURL, method string, headers map[string]string) *HTTPHandler {
	if method == "" {
		method = http.MethodGet
	}
	return &HTTPHandler{
		URL:     rawURL,
		Method:  strings.ToUpper(method),
		Headers: headers,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Execute implements Handler.
func (h *HTTPHandler) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var (
		req *http.Request
		err error
	)
	if h.Method == http.MethodGet {
		target, buildErr := buildQueryURL(h.URL, args)
		if buildErr != nil {
			return nil, buildErr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	} else {
		body, marshalErr := json.Marshal(args)
		if marshalErr != nil {
			return nil, fmt.Errorf("encode request body: %w", marshalErr)
		}
		req, err = http.NewRequestWithContext(ctx, h.Method, h.URL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

func buildQueryURL(rawURL string, args map[string]interface{}) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	query := parsed.Query()
	for k, v := range args {
		query.Set(k, fmt.Sprintf("%v", v))
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
