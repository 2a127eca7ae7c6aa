package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meltforce/squatclicker/internal/pose"
)

// wireFrame mirrors exercise.WireFrame without importing the exercise package
// (which would pull in pgx and other server-side dependencies).
type wireFrame struct {
	TS        int64           `json:"ts"`
	Landmarks []pose.Landmark `json:"landmarks"`
}

// sessionResult is the subset of a finished session's result the replayer reads.
type sessionResult struct {
	Count  int    `json:"count"`
	Goal   int    `json:"goal"`
	Reason string `json:"reason"`
}

// sessionStatus mirrors the parts of exercise.Status returned by the server.
type sessionStatus struct {
	ID      uuid.UUID `json:"id"`
	Session struct {
		Active bool `json:"active"`
		Count  int  `json:"count"`
		Goal   int  `json:"goal"`
	} `json:"session"`
	Result *sessionResult `json:"result,omitempty"`
	Reward int64          `json:"reward"`
}

// Client sends recordings to the SquatClicker server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the SquatClicker server.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		attempts: 3,
		backoff:  time.Second,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s failed (status %d): %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// StartSession starts an exercise session with the given goal.
func (c *Client) StartSession(ctx context.Context, goal int) (*sessionStatus, error) {
	body, _ := json.Marshal(map[string]int{"goal": goal})
	var st sessionStatus
	if err := c.do(ctx, http.MethodPost, "/api/v1/exercise", body, http.StatusCreated, &st); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return &st, nil
}

// SendFrames POSTs a batch of frames to a session.
// Retries up to c.attempts times with exponential backoff on failure.
func (c *Client) SendFrames(ctx context.Context, id uuid.UUID, frames []wireFrame) error {
	data, err := json.Marshal(map[string][]wireFrame{"frames": frames})
	if err != nil {
		return fmt.Errorf("marshaling frames: %w", err)
	}

	path := "/api/v1/exercise/" + id.String() + "/frames"
	var lastErr error
	for attempt := range c.attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff << uint(attempt-1)):
			}
		}
		if lastErr = c.do(ctx, http.MethodPost, path, data, http.StatusAccepted, nil); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.attempts, lastErr)
}

// Status fetches the current view of a session.
func (c *Client) Status(ctx context.Context, id uuid.UUID) (*sessionStatus, error) {
	var st sessionStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/exercise/"+id.String(), nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel ends a session, keeping the repetitions counted so far.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*sessionStatus, error) {
	var st sessionStatus
	if err := c.do(ctx, http.MethodPost, "/api/v1/exercise/"+id.String()+"/cancel", nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
