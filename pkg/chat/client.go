package chat

import (
	"bufio"
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

// DefaultRequestTimeout bounds one full streamed exchange. The server applies
// its own idle watchdog; this is the client-side backstop against a hung
// connection.
const DefaultRequestTimeout = 2 * time.Minute

// Client talks to the Zubi server's /api/chat endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a streaming chat request for the given history. The returned
// EventStream yields StreamEvents until a terminal done/error event, then
// io.EOF. The caller must Close it.
func (c *Client) Stream(ctx context.Context, history []Message) (*EventStream, error) {
	body, err := json.Marshal(Request{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return newEventStream(resp.Body), nil
}

// Health calls GET /api/health and reports whether the server answered ok.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// EventStream reads StreamEvents off a text/event-stream response body.
// Frames that fail to parse are skipped rather than aborting the stream.
type EventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	finished bool
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{reader: bufio.NewReader(body), closer: body}
}

// Next returns the next event. After a terminal event has been returned, or
// when the underlying connection ends, Next returns io.EOF.
func (s *EventStream) Next() (StreamEvent, error) {
	if s.finished {
		return StreamEvent{}, io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finished = true
				return StreamEvent{}, io.EOF
			}
			return StreamEvent{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // skip unparseable frames
		}
		if ev.Type == "" {
			continue
		}
		if ev.Terminal() {
			s.finished = true
		}
		return ev, nil
	}
}

// Close releases the underlying connection.
func (s *EventStream) Close() error {
	return s.closer.Close()
}
