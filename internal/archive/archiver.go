// Package archive moves aged ledger data into object storage as monthly
// JSONL files. Rows are grouped by their created-at month so re-running the
// archiver appends deterministically named objects.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/propdesk/propdesk/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// Archiver implements domain.Archiver over the trade and audit stores.
// Archived rows are NOT deleted here; pruning the primary store is a
// separate operational step taken after the archive is verified.
type Archiver struct {
	trades domain.TradeStore
	audit  domain.AuditStore
	blobs  domain.BlobWriter
	logger *slog.Logger
}

// New creates an Archiver.
func New(trades domain.TradeStore, audit domain.AuditStore, blobs domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		trades: trades,
		audit:  audit,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads all trades older than the cutoff and returns how
// many rows were archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("archive: list trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.Trade)
	for _, t := range trades {
		key := t.CreatedAt.UTC().Format("2006-01")
		byMonth[key] = append(byMonth[key], t)
	}

	var total int64
	for month, batch := range byMonth {
		path := fmt.Sprintf("archive/trades/%s.jsonl", month)
		if err := a.putJSONL(ctx, path, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
		a.logger.InfoContext(ctx, "trades archived",
			slog.String("path", path),
			slog.Int("rows", len(batch)),
		)
	}

	if err := a.audit.Log(ctx, "trades_archived", "", map[string]any{
		"before": before.UTC().Format(time.RFC3339),
		"rows":   total,
	}); err != nil {
		a.logger.WarnContext(ctx, "audit log for trade archive failed", slog.String("error", err.Error()))
	}
	return total, nil
}

// ArchiveAudit uploads all audit entries older than the cutoff and returns
// how many rows were archived.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("archive: list audit entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.AuditEntry)
	for _, e := range entries {
		key := e.CreatedAt.UTC().Format("2006-01")
		byMonth[key] = append(byMonth[key], e)
	}

	var total int64
	for month, batch := range byMonth {
		path := fmt.Sprintf("archive/audit/%s.jsonl", month)
		if err := a.putJSONL(ctx, path, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
		a.logger.InfoContext(ctx, "audit entries archived",
			slog.String("path", path),
			slog.Int("rows", len(batch)),
		)
	}
	return total, nil
}

// putJSONL encodes a batch as newline-delimited JSON and uploads it.
func (a *Archiver) putJSONL(ctx context.Context, path string, batch any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	switch rows := batch.(type) {
	case []domain.Trade:
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("archive: encode trade: %w", err)
			}
		}
	case []domain.AuditEntry:
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("archive: encode audit entry: %w", err)
			}
		}
	default:
		return fmt.Errorf("archive: unsupported batch type %T", batch)
	}

	if err := a.blobs.Put(ctx, path, &buf, contentTypeJSONL); err != nil {
		return fmt.Errorf("archive: upload %s: %w", path, err)
	}
	return nil
}

// Runner periodically archives data older than the retention window.
type Runner struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewRunner creates a Runner. interval defaults to 24h and retention to 90
// days when non-positive.
func NewRunner(archiver domain.Archiver, interval, retention time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Runner{
		archiver:  archiver,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "archive_runner")),
	}
}

// Run archives on the configured interval until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "archive runner started",
		slog.Duration("interval", r.interval),
		slog.Duration("retention", r.retention),
	)
	defer r.logger.Info("archive runner stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-r.retention)
			if _, err := r.archiver.ArchiveTrades(ctx, cutoff); err != nil {
				r.logger.ErrorContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			}
			if _, err := r.archiver.ArchiveAudit(ctx, cutoff); err != nil {
				r.logger.ErrorContext(ctx, "audit archive failed", slog.String("error", err.Error()))
			}
		}
	}
}
