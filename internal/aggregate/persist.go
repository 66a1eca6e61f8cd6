package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"martpipe/internal/config"
	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// snapshot is the persisted mart layout.
type snapshot struct {
	SavedAt time.Time          `json:"saved_at"`
	Entries []domain.MartEntry `json:"entries"`
}

// Persister writes mart snapshots to disk after each batch. Persistence is an
// external dependency: failures are retried with bounded exponential backoff
// and then surfaced as an external error so the caller can raise a critical
// alert. The in-memory mart stays authoritative either way.
type Persister struct {
	path    string
	timeout time.Duration
	retry   config.RetryConfig
	logger  *slog.Logger
}

// NewPersister creates a snapshot persister.
func NewPersister(cfg config.PipelineConfig, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		path:    cfg.SnapshotPath,
		timeout: cfg.PersistTimeout,
		retry:   cfg.PersistRetry,
		logger:  logger.With(slog.String("component", "persister")),
	}
}

// Persist writes the mart snapshot atomically: marshal to a temp file in the
// target directory, then rename over the previous snapshot. Readers of the
// file never observe a partial write.
func (p *Persister) Persist(ctx context.Context, mart *Mart) error {
	if p.path == "" {
		return nil
	}

	entries := mart.Snapshot()
	data, err := json.MarshalIndent(snapshot{
		SavedAt: time.Now().UTC(),
		Entries: entries,
	}, "", "  ")
	if err != nil {
		return errors.NewExternalError(domain.StageAggregator, fmt.Errorf("marshal snapshot: %w", err))
	}

	delay := p.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		lastErr = p.write(ctx, data)
		if lastErr == nil {
			if attempt > 1 {
				p.logger.InfoContext(ctx, "snapshot persisted after retry",
					slog.Int("attempt", attempt),
					slog.String("path", p.path))
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		p.logger.WarnContext(ctx, "snapshot write failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.retry.MaxAttempts),
			slog.String("error", lastErr.Error()))

		if attempt == p.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.NewExternalError(domain.StageAggregator, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.retry.Multiplier)
		if p.retry.MaxDelay > 0 && delay > p.retry.MaxDelay {
			delay = p.retry.MaxDelay
		}
	}

	return errors.NewExternalError(domain.StageAggregator,
		fmt.Errorf("persist snapshot to %s after %d attempts: %w", p.path, p.retry.MaxAttempts, lastErr))
}

// Load restores a mart from the snapshot file. A missing file is a cold
// start, not an error.
func (p *Persister) Load(mart *Mart) error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewExternalError(domain.StageAggregator, fmt.Errorf("read snapshot: %w", err))
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.NewExternalError(domain.StageAggregator, fmt.Errorf("decode snapshot %s: %w", p.path, err))
	}

	mart.Restore(snap.Entries)
	p.logger.Info("mart restored from snapshot",
		slog.String("path", p.path),
		slog.Int("entries", len(snap.Entries)),
		slog.Time("saved_at", snap.SavedAt))
	return nil
}

func (p *Persister) write(ctx context.Context, data []byte) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- p.writeAtomic(data)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *Persister) writeAtomic(data []byte) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, p.path)
}
