// Package toolexec runs allow-listed pentest tools on a remote listener and
// has the model plan and interpret each run.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/cybermentor/internal/engine"
)

const (
	DefaultTimeout = 610 * time.Second
	maxRetries     = 3
	initialBackoff = 2 * time.Second
)

// ErrListener is wrapped by every failure to reach or use the listener.
var ErrListener = errors.New("tool listener error")

// Command is one tool invocation. Params never pass through a shell.
type Command struct {
	Tool   string   `json:"tool"`
	Params []string `json:"params"`
}

func (c Command) String() string {
	return strings.TrimSpace(c.Tool + " " + strings.Join(c.Params, " "))
}

// Output is the listener's report of a run.
type Output struct {
	Success     bool   `json:"success"`
	Tool        string `json:"tool"`
	Output      string `json:"output"`
	ErrorOutput string `json:"error_output"`
}

// ListenerClient talks to the HTTP listener that executes tools.
type ListenerClient struct {
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
}

func NewListenerClient(baseURL string, timeout time.Duration) *ListenerClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ListenerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		backoff:    initialBackoff,
	}
}

// Execute posts cmd to {baseURL}/execute. A run that the listener reports
// as failed is returned as an Output with Success false, not as an error.
// Rate-limited requests are retried with exponential backoff.
func (c *ListenerClient) Execute(ctx context.Context, cmd Command) (*Output, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		out, err := c.do(ctx, body)
		if err == nil {
			return out, nil
		}
		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			wait := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				if isTimeout(ctx.Err()) {
					return nil, fmt.Errorf("%w: %w: %w", ErrListener, engine.ErrTimeout, ctx.Err())
				}
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, fmt.Errorf("%w: rate limited after %d retries: %w", ErrListener, maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

// isTimeout reports whether err is an expired client or context deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *ListenerClient) do(ctx context.Context, body []byte) (*Output, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w: tool run on %s: %w", ErrListener, engine.ErrTimeout, c.baseURL, err)
		}
		return nil, fmt.Errorf("%w: executing request to %s: %w", ErrListener, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w: reading response: %w", ErrListener, engine.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: reading response: %w", ErrListener, err)
	}

	// The listener answers failed runs with a 500 carrying a result object.
	var out Output
	if err := json.Unmarshal(raw, &out); err == nil && out.Tool != "" {
		return &out, nil
	}

	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrListener, resp.StatusCode, apiErr.Error)
	}
	return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrListener, resp.StatusCode, strings.TrimSpace(string(raw)))
}
