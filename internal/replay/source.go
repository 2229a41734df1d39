package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lobfeed/internal/book"
	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Publisher receives replayed snapshots.
type Publisher interface {
	PublishBook(ctx context.Context, snap domain.BookSnapshot) error
}

// SourceConfig configures a replay.
type SourceConfig struct {
	Path  string        // object path in the blob reader
	Delay time.Duration // pause after each published snapshot
	TopN  int           // levels per side in published snapshots; 0 = all
}

// Source replays a recording. Each record is applied as a reset frame
// through the same Update path the live feed uses, so the book enforces the
// same validation and trimming. Records for other symbols are skipped.
type Source struct {
	cfg    SourceConfig
	blobs  domain.BlobReader
	book   *book.Book
	pub    Publisher
	logger *slog.Logger
}

func NewSource(cfg SourceConfig, blobs domain.BlobReader, b *book.Book, pub Publisher, logger *slog.Logger) *Source {
	return &Source{
		cfg:    cfg,
		blobs:  blobs,
		book:   b,
		pub:    pub,
		logger: logger.With(slog.String("component", "replay"), slog.String("path", cfg.Path)),
	}
}

// Run replays every record and returns nil when the recording is exhausted.
func (s *Source) Run(ctx context.Context) error {
	recs, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("replay started", slog.Int("records", len(recs)))

	published, skipped := 0, 0
	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.book.Update(rec.Frame(s.book.Symbol())) {
			skipped++
			continue
		}
		if err := s.pub.PublishBook(ctx, s.book.Snapshot(s.cfg.TopN)); err != nil {
			return fmt.Errorf("replay: publish record %d: %w", i, err)
		}
		published++

		if s.cfg.Delay > 0 {
			t := time.NewTimer(s.cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}

	s.logger.Info("replay finished",
		slog.Int("published", published),
		slog.Int("skipped", skipped),
	)
	return nil
}

func (s *Source) load(ctx context.Context) ([]Record, error) {
	rc, err := s.blobs.Get(ctx, s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", s.cfg.Path, err)
	}
	defer rc.Close()
	return Decode(rc)
}
