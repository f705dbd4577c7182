//go:build integration

package containers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ntfyImage = "binwiederhier/ntfy"
	ntfyPort  = "80/tcp"
)

// NtfyConfig configures the ntfy server container.
type NtfyConfig struct {
	// Tag of the binwiederhier/ntfy image; "latest" when empty.
	Tag string
}

// NtfyContainer runs an ntfy server that accepts anonymous publishes. The
// message cache lives on tmpfs so topics can be polled after delivery.
type NtfyContainer struct {
	container testcontainers.Container
	addr      string
	client    *http.Client
}

// NtfyMessage is one event polled from a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NewNtfyContainer starts an ntfy server and waits for /v1/health.
func NewNtfyContainer(ctx context.Context, cfg *NtfyConfig) (*NtfyContainer, error) {
	tag := "latest"
	if cfg != nil && cfg.Tag != "" {
		tag = cfg.Tag
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        ntfyImage + ":" + tag,
			ExposedPorts: []string{ntfyPort},
			Cmd:          []string{"serve", "--cache-file=/var/cache/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/var/cache/ntfy": "rw"},
			WaitingFor: wait.ForHTTP("/v1/health").
				WithPort(ntfyPort).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start ntfy: %w", err)
	}

	addr, err := container.PortEndpoint(ctx, ntfyPort, "")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("ntfy endpoint: %w", err)
	}

	return &NtfyContainer{
		container: container,
		addr:      addr,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Addr returns host:port of the server, as used in ntfy:// shoutrrr URLs.
func (c *NtfyContainer) Addr() string {
	return c.addr
}

// URL returns the server's base HTTP URL.
func (c *NtfyContainer) URL() string {
	return "http://" + c.addr
}

// PollMessages returns the messages cached on topic. Keepalive and open
// events are skipped.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	endpoint := c.URL() + "/" + url.PathEscape(topic) + "/json?poll=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("poll %s: status %d: %s", topic, resp.StatusCode, body)
	}

	var messages []NtfyMessage
	dec := json.NewDecoder(resp.Body)
	for {
		var msg NtfyMessage
		err := dec.Decode(&msg)
		if errors.Is(err, io.EOF) {
			return messages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode ntfy event: %w", err)
		}
		if msg.Event == "" || msg.Event == "message" {
			messages = append(messages, msg)
		}
	}
}

// Terminate stops and removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
