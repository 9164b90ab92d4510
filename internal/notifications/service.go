package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shelfarr/internal/config"
)

const userAgent = "shelfarr/0.1.0"

// Service defines the notification surface exposed to job processors.
type Service interface {
	NotifyDownloaded(ctx context.Context, title, author, targetPath string) error
	NotifyAvailable(ctx context.Context, title, author string) error
	NotifyFailed(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
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
	events   config.Notifications
}

func describe(title, author string) string {
	title = strings.TrimSpace(title)
	if author = strings.TrimSpace(author); author != "" {
		return fmt.Sprintf("%s by %s", title, author)
	}
	return title
}

func (n *ntfyService) NotifyDownloaded(ctx context.Context, title, author, targetPath string) error {
	if !n.events.OnDownloaded {
		return nil
	}
	message := fmt.Sprintf("📚 Downloaded: %s", describe(title, author))
	if targetPath = strings.TrimSpace(targetPath); targetPath != "" {
		message = fmt.Sprintf("%s\nPath: %s", message, targetPath)
	}
	return n.send(ctx, payload{
		title:   "shelfarr - Downloaded",
		message: message,
		tags:    []string{"shelfarr", "download", "completed"},
	})
}

func (n *ntfyService) NotifyAvailable(ctx context.Context, title, author string) error {
	if !n.events.OnAvailable {
		return nil
	}
	return n.send(ctx, payload{
		title:    "shelfarr - Available",
		message:  fmt.Sprintf("✅ Ready to listen: %s", describe(title, author)),
		tags:     []string{"shelfarr", "library", "available"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyFailed(ctx context.Context, title, reason string) error {
	if !n.events.OnFailed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Request failed")
	if title = strings.TrimSpace(title); title != "" {
		builder.WriteString(": ")
		builder.WriteString(title)
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString("\n")
		builder.WriteString(reason)
	}
	return n.send(ctx, payload{
		title:    "shelfarr - Failed",
		message:  builder.String(),
		tags:     []string{"shelfarr", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "shelfarr - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"shelfarr", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

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

func (noopService) NotifyDownloaded(context.Context, string, string, string) error { return nil }
func (noopService) NotifyAvailable(context.Context, string, string) error          { return nil }
func (noopService) NotifyFailed(context.Context, string, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
