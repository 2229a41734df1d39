package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize matches the 10MB limit of the market data server.
	maxMessageSize = 10 << 20

	defaultHandshakeTimeout = 15 * time.Second
)

// StreamConfig holds the market data stream endpoint and credentials.
type StreamConfig struct {
	URL              string
	APIKey           string
	APISecret        string
	HandshakeTimeout time.Duration
}

// Stream is an authenticated connection to the crypto order-book stream.
// ReadMessage must be called from a single goroutine; Subscribe and
// Unsubscribe may be called concurrently with it.
type Stream struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the stream and completes the auth handshake. A rejected
// key pair returns an error wrapping domain.ErrAuthFailed; every other
// failure wraps domain.ErrTransport.
func Dial(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("alpaca/ws: connect: %w: %v", domain.ErrTransport, err)
	}
	conn.SetReadLimit(maxMessageSize)

	s := &Stream{conn: conn, done: make(chan struct{})}
	if err := s.authenticate(ctx, cfg, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.pingLoop()

	return s, nil
}

// authenticate sends the credentials and waits for the server verdict. The
// "connected" greeting that precedes it is skipped.
func (s *Stream) authenticate(ctx context.Context, cfg StreamConfig, timeout time.Duration) error {
	if err := s.send(streamCommand{Action: "auth", Key: cfg.APIKey, Secret: cfg.APISecret}); err != nil {
		return fmt.Errorf("alpaca/ws: send auth: %w: %v", domain.ErrTransport, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("alpaca/ws: await auth: %w: %v", domain.ErrTransport, err)
		}
		msgs, err := splitMessages(raw)
		if err != nil {
			continue
		}
		for _, m := range msgs {
			switch {
			case m.Type == msgSuccess && m.Msg == "authenticated":
				return nil
			case m.Type == msgError:
				return fmt.Errorf("alpaca/ws: %w: code %d: %s", domain.ErrAuthFailed, m.Code, m.Msg)
			}
		}
	}
}

// ReadMessage blocks until the next payload arrives or ctx is done. Any
// error is terminal for the stream and wraps domain.ErrTransport.
func (s *Stream) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A past read deadline unblocks the pending read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("alpaca/ws: read: %w: %v", domain.ErrTransport, err)
	}
	return raw, nil
}

// Subscribe requests order-book updates for symbol. The server answers with
// a full snapshot followed by deltas.
func (s *Stream) Subscribe(_ context.Context, symbol string) error {
	if err := s.send(streamCommand{Action: "subscribe", Orderbooks: []string{symbol}}); err != nil {
		return fmt.Errorf("alpaca/ws: subscribe %s: %w: %v", symbol, domain.ErrTransport, err)
	}
	return nil
}

// Unsubscribe stops order-book updates for symbol.
func (s *Stream) Unsubscribe(_ context.Context, symbol string) error {
	if err := s.send(streamCommand{Action: "unsubscribe", Orderbooks: []string{symbol}}); err != nil {
		return fmt.Errorf("alpaca/ws: unsubscribe %s: %w: %v", symbol, domain.ErrTransport, err)
	}
	return nil
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) send(cmd streamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.New("stream closed")
	default:
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
