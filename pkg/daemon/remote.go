package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/agent"
)

const (
	// requestTimeout bounds read-only calls.
	requestTimeout = 10 * time.Second
	// actionTimeout bounds calls that spawn processes, which include tool
	// resolution through the login shell and the agent warm-up.
	actionTimeout = 90 * time.Second
)

// RemoteClient implements Client by calling the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	socketPath string
}

// NewRemoteClient creates a new RemoteClient connected to the daemon socket.
func NewRemoteClient(socketPath string) (*RemoteClient, error) {
	transport := &http.Transport{
		DialContext:     unixDialer(socketPath),
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &RemoteClient{
		// Per-call deadlines come from the request context.
		httpClient: &http.Client{Transport: transport},
		socketPath: socketPath,
	}, nil
}

func unixDialer(socketPath string) func(ctx context.Context, _, _ string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

func sessionPath(taskID string, suffix ...string) string {
	return "/api/sessions/" + url.PathEscape(taskID) + strings.Join(suffix, "")
}

// do sends a request and decodes a JSON response into out. Error bodies are
// decoded back into *errors.AgentError so codes survive the round trip.
func (c *RemoteClient) do(ctx context.Context, timeout time.Duration, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.DaemonUnavailable(c.socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var agentErr errors.AgentError
	if err := json.Unmarshal(data, &agentErr); err == nil && agentErr.Code != "" {
		return &agentErr
	}
	return errors.New(errors.ErrCodeInternal, fmt.Sprintf("daemon returned status %d", resp.StatusCode)).
		WithDetail("body", strings.TrimSpace(string(data)))
}

func (c *RemoteClient) Launch(ctx context.Context, req LaunchRequest) (*agent.Session, error) {
	var sess agent.Session
	if err := c.do(ctx, actionTimeout, http.MethodPost, "/api/sessions", req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *RemoteClient) Restart(ctx context.Context, taskID string, req RestartRequest) (*agent.Session, error) {
	var sess agent.Session
	if err := c.do(ctx, actionTimeout, http.MethodPost, sessionPath(taskID, "/restart"), req, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *RemoteClient) Stop(ctx context.Context, taskID string) error {
	return c.do(ctx, requestTimeout, http.MethodPost, sessionPath(taskID, "/stop"), nil, nil)
}

func (c *RemoteClient) Remove(ctx context.Context, taskID string) error {
	return c.do(ctx, requestTimeout, http.MethodDelete, sessionPath(taskID), nil, nil)
}

func (c *RemoteClient) Open(ctx context.Context, taskID string) error {
	return c.do(ctx, actionTimeout, http.MethodPost, sessionPath(taskID, "/open"), nil, nil)
}

func (c *RemoteClient) Get(ctx context.Context, taskID string) (*agent.Session, error) {
	var sess agent.Session
	if err := c.do(ctx, requestTimeout, http.MethodGet, sessionPath(taskID), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *RemoteClient) List(ctx context.Context) ([]agent.Session, error) {
	var sessions []agent.Session
	if err := c.do(ctx, requestTimeout, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *RemoteClient) Config(ctx context.Context) (*RunningConfig, error) {
	var cfg RunningConfig
	if err := c.do(ctx, requestTimeout, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stream subscribes to session events via Server-Sent Events (SSE).
// The channel is closed when the context is cancelled or the connection is lost.
func (c *RemoteClient) Stream(ctx context.Context) (<-chan agent.Event, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	// Use a separate transport so the stream does not hold a pooled connection
	streamTransport := &http.Transport{DialContext: unixDialer(c.socketPath)}
	streamClient := &http.Client{Transport: streamTransport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, errors.DaemonUnavailable(c.socketPath, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	ch := make(chan agent.Event, 16)

	go func() {
		defer resp.Body.Close()
		defer close(ch)
		defer streamTransport.CloseIdleConnections()

		scanner := bufio.NewScanner(resp.Body)
		// Session output can exceed the default 64KB line limit.
		scanner.Buffer(make([]byte, 0, 256*1024), 10*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()

			// Skip comments and empty lines
			if strings.HasPrefix(line, ":") || line == "" {
				continue
			}

			jsonStr, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev agent.Event
			if err := json.Unmarshal([]byte(jsonStr), &ev); err != nil {
				continue // Skip malformed data
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Watch subscribes to session events over the daemon's websocket.
func (c *RemoteClient) Watch(ctx context.Context) (<-chan agent.Event, error) {
	dialer := websocket.Dialer{
		NetDialContext:   unixDialer(c.socketPath),
		HandshakeTimeout: requestTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, "ws://unix/api/ws", nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.DaemonUnavailable(c.socketPath, err)
	}

	ch := make(chan agent.Event, 16)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(ch)
		defer stop()
		defer conn.Close()
		for {
			var ev agent.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ensure RemoteClient implements Client interface.
var _ Client = (*RemoteClient)(nil)
