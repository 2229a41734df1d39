package feed

import (
	"context"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Conn is one authenticated feed connection. ReadMessage is only ever called
// from the session reader; Subscribe and Unsubscribe come from the driver.
// Any error from these methods is a transport failure and ends the session.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	Close() error
}

// Dialer opens a new Conn. It is called once per connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

// Decoder converts a raw payload into validated frames. An error means the
// whole payload was unusable; it is counted and skipped, never fatal.
type Decoder interface {
	Decode(raw []byte) (domain.FrameBatch, error)
}

// Publisher hands immutable snapshots and fatal conditions to the pipeline.
type Publisher interface {
	PublishBook(ctx context.Context, snap domain.BookSnapshot) error
	PublishFatal(ctx context.Context, err error) error
}
