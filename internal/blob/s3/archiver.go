package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Archiver accumulates evaluation decisions in memory and periodically
// uploads them to the object store as JSONL, one file per flush at
// archive/decisions/YYYY/MM/DD/HHMMSS.jsonl. Decisions are dropped from
// the buffer only after a successful upload. When retention is positive,
// objects older than the retention window are pruned once a day.
type Archiver struct {
	writer    *Writer
	reader    *Reader
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	pending   []domain.Decision
	lastSweep time.Time
}

// NewArchiver creates an archiver flushing every interval. A zero
// retention disables pruning.
func NewArchiver(writer *Writer, reader *Reader, interval, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Add buffers one decision for the next flush.
func (a *Archiver) Add(d domain.Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, d)
}

// Run flushes on the configured interval until the context is cancelled,
// then performs a final flush with a short deadline.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("archiver started", slog.Duration("interval", a.interval))
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("flush failed", slog.String("error", err.Error()))
			}
			if err := a.sweep(ctx); err != nil {
				a.logger.Error("retention sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// multipartThreshold is the flush size above which the multipart uploader
// is used instead of a single PutObject.
const multipartThreshold int64 = 16 * 1024 * 1024

// Flush uploads the buffered decisions, if any, as one JSONL object.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return fmt.Errorf("s3blob: marshal decisions: %w", err)
	}

	path := archivePath("decisions", time.Now().UTC())
	var putErr error
	if int64(len(buf)) >= multipartThreshold {
		putErr = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		putErr = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if putErr != nil {
		// Put the batch back so nothing is lost on a transient failure.
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return fmt.Errorf("s3blob: upload decisions: %w", putErr)
	}

	a.logger.Info("decisions archived",
		slog.String("path", path),
		slog.Int("count", len(batch)))
	return nil
}

// sweep deletes archive objects last modified before the retention cutoff.
// It runs at most once per day.
func (a *Archiver) sweep(ctx context.Context) error {
	if a.retention <= 0 || a.reader == nil {
		return nil
	}

	now := time.Now().UTC()
	a.mu.Lock()
	due := now.Sub(a.lastSweep) >= 24*time.Hour
	if due {
		a.lastSweep = now
	}
	a.mu.Unlock()
	if !due {
		return nil
	}

	cutoff := now.Add(-a.retention)
	infos, err := a.reader.List(ctx, "archive/")
	if err != nil {
		return err
	}

	var deleted int
	for _, info := range infos {
		if info.LastModified.IsZero() || !info.LastModified.Before(cutoff) {
			continue
		}
		if err := a.reader.Delete(ctx, info.Path); err != nil {
			return err
		}
		deleted++
	}

	if deleted > 0 {
		a.logger.Info("expired archives pruned",
			slog.Int("count", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key for one flush.
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.Format("2006/01/02/150405"))
}
