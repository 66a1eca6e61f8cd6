package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

var severityRank = map[domain.Severity]int{
	domain.SeverityInfo:     0,
	domain.SeverityWarning:  1,
	domain.SeverityCritical: 2,
}

type boundChannel struct {
	channel Channel
	min     domain.Severity
}

// Dispatcher routes alerts to notification channels. Raising an alert is
// non-blocking: alerts queue on a buffered channel and a full queue drops
// the alert with a log line, so alerting can never stall the data path.
//
// Identical conditions (same stage + condition) within the cooldown window
// collapse into one delivery, except that a severity escalation of an active
// condition always delivers; conditions that stay active are re-announced
// as "ongoing" heartbeats at the configured interval until resolved.
type Dispatcher struct {
	cfg      config.AlertsConfig
	logger   *slog.Logger
	queue    chan domain.Alert
	channels []boundChannel

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	active        map[string]domain.Alert
	lastAnnounced map[string]time.Time
	history       []domain.Alert
	suppressed    int64
	dropped       int64

	// OnDeliver is invoked once per delivered alert, after fan-out.
	OnDeliver func(domain.Alert)

	quit chan struct{}
	done chan struct{}
}

// NewDispatcher creates a dispatcher. Channels are registered with a minimum
// severity; an alert goes to every channel whose minimum it meets.
func NewDispatcher(cfg config.AlertsConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 64
	}
	return &Dispatcher{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "alert_dispatcher")),
		queue:         make(chan domain.Alert, queueSize),
		cooldownUntil: make(map[string]time.Time),
		active:        make(map[string]domain.Alert),
		lastAnnounced: make(map[string]time.Time),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// AddChannel registers a delivery channel for alerts at or above min.
func (d *Dispatcher) AddChannel(ch Channel, min domain.Severity) {
	d.channels = append(d.channels, boundChannel{channel: ch, min: min})
}

// Start launches the dispatch loop. Channels must be registered first.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop drains the queue and stops the loop.
func (d *Dispatcher) Stop() {
	close(d.quit)
	<-d.done
}

// Raise queues an alert for delivery. Missing ID, timestamp and dedup key
// are filled in here so callers only describe the condition.
func (d *Dispatcher) Raise(alert domain.Alert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.DedupKey == "" {
		alert.DedupKey = domain.AlertDedupKey(alert.Stage, alert.Condition)
	}

	select {
	case d.queue <- alert:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn("alert queue full, alert dropped",
			slog.String("dedup_key", alert.DedupKey),
			slog.String("severity", string(alert.Severity)))
	}
}

// Resolve clears an active condition so heartbeats stop.
func (d *Dispatcher) Resolve(stage, condition string) {
	key := domain.AlertDedupKey(stage, condition)
	d.mu.Lock()
	delete(d.active, key)
	delete(d.lastAnnounced, key)
	d.mu.Unlock()
}

// History returns the retained delivered alerts, oldest first.
func (d *Dispatcher) History() []domain.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Alert, len(d.history))
	copy(out, d.history)
	return out
}

// Suppressed returns the count of alerts collapsed by cooldown.
func (d *Dispatcher) Suppressed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	heartbeat := d.cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Minute
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			// Drain what is already queued before stopping.
			for {
				select {
				case alert := <-d.queue:
					d.process(ctx, alert)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.process(ctx, alert)
		case <-ticker.C:
			d.announceOngoing(ctx, heartbeat)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, alert domain.Alert) {
	now := time.Now()

	d.mu.Lock()
	if until, ok := d.cooldownUntil[alert.DedupKey]; ok && now.Before(until) && !alert.Ongoing {
		// Cooldown only suppresses repeats at or below the active severity.
		// An escalation delivers immediately and restarts the window.
		prev, active := d.active[alert.DedupKey]
		if !active || severityRank[alert.Severity] <= severityRank[prev.Severity] {
			d.suppressed++
			// The ongoing condition keeps its highest-severity form.
			if !active || severityRank[alert.Severity] >= severityRank[prev.Severity] {
				d.active[alert.DedupKey] = alert
			}
			d.mu.Unlock()
			d.logger.Debug("alert suppressed by cooldown",
				slog.String("dedup_key", alert.DedupKey))
			return
		}
	}
	d.cooldownUntil[alert.DedupKey] = now.Add(d.cfg.Cooldown)
	d.active[alert.DedupKey] = alert
	d.lastAnnounced[alert.DedupKey] = now
	d.history = append(d.history, alert)
	if d.cfg.HistorySize > 0 && len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	d.mu.Unlock()

	d.deliver(ctx, alert)
}

func (d *Dispatcher) deliver(ctx context.Context, alert domain.Alert) {
	for _, bound := range d.channels {
		if severityRank[alert.Severity] < severityRank[bound.min] {
			continue
		}

		deliverCtx := ctx
		var cancel context.CancelFunc
		if d.cfg.Webhook.Timeout > 0 {
			deliverCtx, cancel = context.WithTimeout(ctx, d.cfg.Webhook.Timeout)
		}
		err := bound.channel.Deliver(deliverCtx, alert)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			d.logger.Error("alert delivery failed",
				slog.String("channel", bound.channel.Name()),
				slog.String("dedup_key", alert.DedupKey),
				slog.String("error", err.Error()))
		}
	}

	if d.OnDeliver != nil {
		d.OnDeliver(alert)
	}
}

// announceOngoing re-delivers conditions still active past the heartbeat
// interval, flagged as ongoing so receivers can distinguish them from new
// incidents.
func (d *Dispatcher) announceOngoing(ctx context.Context, interval time.Duration) {
	now := time.Now()

	d.mu.Lock()
	due := make([]domain.Alert, 0, len(d.active))
	for key, alert := range d.active {
		if now.Sub(d.lastAnnounced[key]) < interval {
			continue
		}
		alert.ID = uuid.NewString()
		alert.Timestamp = now.UTC()
		alert.Ongoing = true
		d.lastAnnounced[key] = now
		d.history = append(d.history, alert)
		due = append(due, alert)
	}
	if d.cfg.HistorySize > 0 && len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
	d.mu.Unlock()

	for _, alert := range due {
		d.deliver(ctx, alert)
	}
}
