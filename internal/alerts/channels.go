package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"martpipe/internal/config"
	"martpipe/internal/websocket"
	"martpipe/pkg/contracts/domain"
)

// Channel delivers alerts to one destination. Delivery is best-effort: a
// failing channel is logged and never affects the others.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert domain.Alert) error
}

// LogChannel writes alerts to the structured log. Always configured; it is
// the delivery floor when every other channel is down.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With(slog.String("component", "alerts.log"))}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(ctx context.Context, alert domain.Alert) error {
	level := slog.LevelInfo
	switch alert.Severity {
	case domain.SeverityWarning:
		level = slog.LevelWarn
	case domain.SeverityCritical:
		level = slog.LevelError
	}
	c.logger.Log(ctx, level, alert.Message,
		slog.String("alert_id", alert.ID),
		slog.String("stage", alert.Stage),
		slog.String("condition", alert.Condition),
		slog.String("severity", string(alert.Severity)),
		slog.Bool("ongoing", alert.Ongoing))
	return nil
}

// WebhookChannel POSTs alerts as JSON to a configured endpoint, rate-limited
// so an alert storm cannot hammer the receiver.
type WebhookChannel struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookChannel creates a webhook channel from its configuration.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &WebhookChannel{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, alert domain.Alert) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// WebsocketChannel pushes alerts onto the live dashboard feed.
type WebsocketChannel struct {
	hub *websocket.Hub
}

// NewWebsocketChannel creates a hub-backed channel.
func NewWebsocketChannel(hub *websocket.Hub) *WebsocketChannel {
	return &WebsocketChannel{hub: hub}
}

func (c *WebsocketChannel) Name() string { return "websocket" }

func (c *WebsocketChannel) Deliver(_ context.Context, alert domain.Alert) error {
	c.hub.BroadcastJSON(map[string]interface{}{
		"type": "alert",
		"data": alert,
	})
	return nil
}

// MemoryChannel retains delivered alerts in memory. Test double.
type MemoryChannel struct {
	mu     sync.Mutex
	alerts []domain.Alert
	fail   error
}

// NewMemoryChannel creates an in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

func (c *MemoryChannel) Name() string { return "memory" }

func (c *MemoryChannel) Deliver(_ context.Context, alert domain.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Alerts returns a copy of everything delivered so far.
func (c *MemoryChannel) Alerts() []domain.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// FailWith makes subsequent deliveries return err.
func (c *MemoryChannel) FailWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}
