// Package adminclient talks to a coordinator or worker admin API.
package adminclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vyvo/bundlecast/pkg/container"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/registry"
)

var (
	// ErrNotFound is returned when the admin API reports a missing resource
	// or route.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized is returned when the admin token is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
)

const streamClosed = "[stream closed]"

// Client calls the admin API over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health returns the role reported by /healthz.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
		Role   string `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	return out.Role, nil
}

// Events lists recorded events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]ledger.Event, error) {
	path := "/api/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []ledger.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out.Events, nil
}

// Distribute asks a coordinator to publish its bundle as if nodeID had
// announced.
func (c *Client) Distribute(ctx context.Context, nodeID string) error {
	body, err := json.Marshal(map[string]string{"node_id": nodeID})
	if err != nil {
		return fmt.Errorf("marshal distribute request: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/distribute", body, nil); err != nil {
		return fmt.Errorf("distribute: %w", err)
	}
	return nil
}

// Nodes lists the workers a coordinator has heard from.
func (c *Client) Nodes(ctx context.Context) ([]registry.Entry, error) {
	var out struct {
		Nodes []registry.Entry `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/nodes", nil, &out); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return out.Nodes, nil
}

// Containers lists a worker's containers.
func (c *Client) Containers(ctx context.Context) ([]container.Container, error) {
	var out struct {
		Containers []container.Container `json:"containers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/containers", nil, &out); err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	return out.Containers, nil
}

func (c *Client) StopContainer(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/api/containers/"+url.PathEscape(id)+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/containers/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// ContainerLogs returns the last tail lines of a container's output.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	path := "/api/containers/" + url.PathEscape(id) + "/logs"
	if tail > 0 {
		path += "?tail=" + strconv.Itoa(tail)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	return out.Logs, nil
}

// StreamEvents follows the live event stream, calling fn for each event
// until ctx is done, the server closes the stream or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, fn func(ledger.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events/stream", nil)
	if err != nil {
		return err
	}
	// The stream outlives the client timeout.
	streaming := *c.httpClient
	streaming.Timeout = 0

	resp, err := streaming.Do(req)
	if err != nil {
		return fmt.Errorf("stream events: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("stream events: %w", err)
	}

	err = readEvents(resp.Body, func(payload string) error {
		if payload == streamClosed {
			return io.EOF
		}
		var event ledger.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return fn(event)
	})
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create admin request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode admin response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errorMessage(resp.Body))
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("admin api returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}
	return nil
}

func errorMessage(body io.Reader) string {
	payload, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	var out struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(payload, &out) == nil && out.Error != "" {
		return out.Error
	}
	return strings.TrimSpace(string(payload))
}

// readEvents reads an SSE stream and calls fn with the data of each event.
func readEvents(body io.Reader, fn func(string) error) error {
	reader := bufio.NewReader(body)
	var data []string
	dispatch := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return fn(payload)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dispatch()
			}
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(trimmed, "data:") {
			data = append(data, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
	}
}
