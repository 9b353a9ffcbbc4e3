// Package upstream is a typed wrapper over the graph runner's HTTP
// contract: submit a graph, poll history to completion, list the active
// queue, and extract output paths.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error kinds. Callers use errors.Is against these sentinels; the wrapped
// error carries the upstream-supplied detail message.
var (
	ErrUnreachable = errors.New("upstream unreachable")
	ErrValidation  = errors.New("upstream rejected request")
	ErrServerError = errors.New("upstream server error")
	ErrUpstream    = errors.New("upstream error")
)

const requestTimeout = 15 * time.Second

// Client talks to one graph-runner instance.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// HistoryStatus is the status sub-object of one history entry.
type HistoryStatus struct {
	Completed bool   `json:"completed"`
	StatusStr string `json:"status_str"`
}

// HistoryEntry is the value keyed by upstream prompt id in /history/{id}.
type HistoryEntry struct {
	Status  HistoryStatus              `json:"status"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// Health reports whether the upstream responds to GET /system_stats. Any
// error (connection refused, timeout, non-2xx) is treated as unhealthy.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// QueuePrompt submits a materialized graph and returns the upstream's
// assigned prompt id.
func (c *Client) QueuePrompt(ctx context.Context, graph json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"prompt": graph})
	if err != nil {
		return "", fmt.Errorf("encoding prompt body: %w", err)
	}

	var decoded struct {
		PromptID string `json:"prompt_id"`
	}
	if err := c.requestJSON(ctx, http.MethodPost, "/prompt", body, &decoded); err != nil {
		return "", err
	}
	if decoded.PromptID == "" {
		return "", fmt.Errorf("%w: response missing prompt_id", ErrUpstream)
	}
	return decoded.PromptID, nil
}

// History fetches one entry from GET /history/{id}. A nil result with a
// nil error means the id is not yet known to upstream.
func (c *Client) History(ctx context.Context, upstreamID string) (*HistoryEntry, error) {
	var decoded map[string]HistoryEntry
	if err := c.requestJSON(ctx, http.MethodGet, "/history/"+upstreamID, nil, &decoded); err != nil {
		return nil, err
	}
	entry, ok := decoded[upstreamID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// QueueIDs returns the union of prompt ids currently running or pending
// upstream, from GET /queue.
func (c *Client) QueueIDs(ctx context.Context) (map[string]bool, error) {
	var decoded struct {
		QueueRunning [][]json.RawMessage `json:"queue_running"`
		QueuePending [][]json.RawMessage `json:"queue_pending"`
	}
	if err := c.requestJSON(ctx, http.MethodGet, "/queue", nil, &decoded); err != nil {
		return nil, err
	}

	ids := make(map[string]bool)
	collect := func(rows [][]json.RawMessage) {
		for _, row := range rows {
			if len(row) < 2 {
				continue
			}
			var id string
			if err := json.Unmarshal(row[1], &id); err == nil {
				ids[id] = true
			}
		}
	}
	collect(decoded.QueueRunning)
	collect(decoded.QueuePending)
	return ids, nil
}

// PollResult is the outcome of PollUntilDone.
type PollResult struct {
	OK        bool
	StatusStr string
}

// PollUntilDone polls History until it reports completion, a terminal
// failure status, or the timeout elapses. Anything not in
// {completed, error, failed, canceled} is treated as still running, since
// the runner's status_str vocabulary is not formally specified.
func (c *Client) PollUntilDone(ctx context.Context, upstreamID string, pollInterval, timeout time.Duration) PollResult {
	deadline := time.Now().Add(timeout)
	for {
		entry, err := c.History(ctx, upstreamID)
		if err == nil && entry != nil {
			if entry.Status.Completed {
				return PollResult{OK: true, StatusStr: entry.Status.StatusStr}
			}
			switch entry.Status.StatusStr {
			case "error", "failed", "canceled":
				return PollResult{OK: false, StatusStr: entry.Status.StatusStr}
			}
		}
		if time.Now().After(deadline) {
			return PollResult{OK: false, StatusStr: "timeout"}
		}
		select {
		case <-ctx.Done():
			return PollResult{OK: false, StatusStr: "canceled"}
		case <-time.After(pollInterval):
		}
	}
}

// Outputs walks a history entry's outputs, forming "subfolder/filename" (or
// bare "filename" when subfolder is empty) for every images/videos/gifs
// entry across every node.
func Outputs(entry *HistoryEntry) []string {
	if entry == nil {
		return nil
	}
	var paths []string
	for _, nodeOutputs := range entry.Outputs {
		var decoded map[string][]struct {
			Filename  string `json:"filename"`
			Subfolder string `json:"subfolder"`
		}
		if err := json.Unmarshal(nodeOutputs, &decoded); err != nil {
			continue
		}
		for _, key := range []string{"images", "videos", "gifs"} {
			for _, f := range decoded[key] {
				if f.Subfolder != "" {
					paths = append(paths, f.Subfolder+"/"+f.Filename)
				} else {
					paths = append(paths, f.Filename)
				}
			}
		}
	}
	return paths
}

// requestJSON issues one HTTP call and decodes a JSON response, mapping
// failures into the error taxonomy.
func (c *Client) requestJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == 400:
		return fmt.Errorf("%w: %s", ErrValidation, extractErrorDetail(respBody))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrServerError, extractErrorDetail(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d: %s", ErrUpstream, resp.StatusCode, extractErrorDetail(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}
	return nil
}

// extractErrorDetail scrapes a human-readable message out of a JSON error
// body using the common field names the runner is known to use.
func extractErrorDetail(body []byte) string {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, field := range []string{"error", "message", "details", "node_errors", "exception_message"} {
		if v, ok := decoded[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
	}
	return strings.TrimSpace(string(body))
}
