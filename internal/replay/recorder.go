package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Path          string
	FlushInterval time.Duration
	// MaxRecords caps the in-memory recording; the oldest records are
	// dropped beyond it. 0 means unlimited.
	MaxRecords int
}

// Recorder is a pipeline sink that accumulates book snapshots and rewrites
// the whole recording to blob storage on every flush. The output can be fed
// straight back into Source.
type Recorder struct {
	cfg    RecorderConfig
	blobs  domain.BlobWriter
	logger *slog.Logger

	mu      sync.Mutex
	records []Record
	dirty   bool
}

func NewRecorder(cfg RecorderConfig, blobs domain.BlobWriter, logger *slog.Logger) *Recorder {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Recorder{
		cfg:    cfg,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "recorder"), slog.String("path", cfg.Path)),
	}
}

func (r *Recorder) Name() string { return "recorder" }

// Handle appends book events; other events are ignored.
func (r *Recorder) Handle(_ context.Context, ev domain.Event) error {
	if ev.Kind != domain.EventBookUpdate {
		return nil
	}
	rec := FromSnapshot(ev.Book)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	// Trim in batches so each event costs amortised O(1).
	if keep := r.cfg.MaxRecords; keep > 0 && len(r.records) >= 2*keep {
		r.records = append(make([]Record, 0, 2*keep), r.records[len(r.records)-keep:]...)
	}
	r.dirty = true
	return nil
}

// window returns the records that belong in the recording. Callers hold mu.
func (r *Recorder) window() []Record {
	if keep := r.cfg.MaxRecords; keep > 0 && len(r.records) > keep {
		return r.records[len(r.records)-keep:]
	}
	return r.records
}

// Len returns the number of records the next flush would write.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.window())
}

// Flush writes the recording if anything changed since the last flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	recs := r.window()
	raw, err := json.MarshalIndent(recs, "", "  ")
	n := len(recs)
	r.dirty = false
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("replay: encode recording: %w", err)
	}

	if err := r.blobs.Put(ctx, r.cfg.Path, bytes.NewReader(raw), "application/json"); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("replay: write recording: %w", err)
	}
	r.logger.Debug("recording flushed", slog.Int("records", n))
	return nil
}

// Run flushes every interval and once more when ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return r.Flush(fctx)
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("flush failed", slog.String("error", err.Error()))
			}
		}
	}
}
