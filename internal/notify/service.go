// Package notify delivers order publication notices to an ntfy-style
// HTTP endpoint.
//
// The roll-up only triggers the notice; [NewService] returns a noop
// implementation when no endpoint is configured.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"labflow/internal/acceptance"
	"labflow/internal/config"
)

const userAgent = "labflow/0.1"

// Service is the notification surface used by the roll-up and the CLI.
type Service interface {
	PublishOrderReported(ctx context.Context, order acceptance.Order) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg config.NotifyConfig) Service {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) PublishOrderReported(ctx context.Context, order acceptance.Order) error {
	ref := strings.TrimSpace(order.Reference)
	if ref == "" {
		ref = order.ID
	}
	return n.send(ctx, payload{
		title:    "Labflow - Order Reported",
		message:  fmt.Sprintf("All reports published for order %s", ref),
		tags:     []string{"labflow", "order", "reported"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Labflow - Test",
		message:  "Notification system test",
		tags:     []string{"labflow", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) PublishOrderReported(context.Context, acceptance.Order) error { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
