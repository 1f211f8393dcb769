package agent

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

// defaultTimeout bounds a single agent call when the caller is created with
// a zero timeout.
const defaultTimeout = 60 * time.Second

// HTTPCaller is the production Caller, posting JSON payloads to the agent
// service.
//
// Example:
//
//	caller := agent.NewHTTPCaller("https://agent.internal:8080", 30*time.Second, "secret-token")
//	result := caller.Call(ctx, agent.Request{Endpoint: "/chat", Payload: payload})
type HTTPCaller struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPCaller creates a caller for the agent service at baseURL.
// A non-empty authToken is sent as a bearer token on every request.
func NewHTTPCaller(baseURL string, timeout time.Duration, authToken string) *HTTPCaller {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPCaller{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Call implements the Caller interface. It never returns an error through
// Go's error channel; every failure mode lands in Result.
func (h *HTTPCaller) Call(ctx context.Context, req Request) Result {
	start := time.Now()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return Result{
				Error:      fmt.Sprintf("failed to encode payload: %v", err),
				DurationMS: msSince(start),
			}
		}
		body = bytes.NewReader(data)
	}

	url := h.baseURL + req.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Result{
			Error:      fmt.Sprintf("failed to create request: %v", err),
			DurationMS: msSince(start),
		}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.authToken)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{
			Error:      fmt.Sprintf("request failed: %v", err),
			DurationMS: msSince(start),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	duration := msSince(start)
	if err != nil {
		return Result{
			Error:      fmt.Sprintf("failed to read response body: %v", err),
			DurationMS: duration,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Error:      fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			DurationMS: duration,
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{
			Error:      fmt.Sprintf("JSON parse error: %v", err),
			DurationMS: duration,
		}
	}

	return Result{
		Success:    true,
		Response:   parsed,
		DurationMS: duration,
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
