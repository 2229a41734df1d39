package alpaca

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Decoder turns raw stream payloads into validated book frames.
type Decoder struct{}

// NewDecoder returns a stream decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode parses a payload holding one message or an array of messages.
// Only book messages become frames; success and subscription messages are
// dropped, error messages are surfaced as notices. A payload that is not
// JSON at all returns an error wrapping domain.ErrInvalidFrame.
func (d *Decoder) Decode(raw []byte) (domain.FrameBatch, error) {
	msgs, err := splitMessages(raw)
	if err != nil {
		return domain.FrameBatch{Rejected: 1}, fmt.Errorf("alpaca/decode: %w: %v", domain.ErrInvalidFrame, err)
	}

	var batch domain.FrameBatch
	for _, m := range msgs {
		switch m.Type {
		case msgOrderbook:
			frame, rejected, ok := toFrame(m)
			batch.Rejected += rejected
			if ok {
				batch.Frames = append(batch.Frames, frame)
			}
		case msgError:
			batch.Notices = append(batch.Notices, fmt.Sprintf("error %d: %s", m.Code, m.Msg))
		case msgSuccess, msgSubscription:
		default:
			// trades, quotes and bars are not tracked
		}
	}
	return batch, nil
}

func splitMessages(raw []byte) ([]StreamMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '[' {
		// Elements are decoded one by one so a single bad element does not
		// discard its neighbours.
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
		out := make([]StreamMessage, 0, len(elems))
		for _, e := range elems {
			var m StreamMessage
			if err := json.Unmarshal(e, &m); err != nil {
				m = StreamMessage{Type: msgOrderbook} // counted as a rejected frame below
			}
			out = append(out, m)
		}
		return out, nil
	}
	var m StreamMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return []StreamMessage{m}, nil
}

// toFrame validates a book message. Frames without a symbol or timestamp are
// rejected whole; level entries missing a price or size are skipped.
func toFrame(m StreamMessage) (domain.BookFrame, int, bool) {
	if m.Symbol == "" || m.Timestamp == "" {
		return domain.BookFrame{}, 1, false
	}
	bids, rb := toLevels(m.Bids)
	asks, ra := toLevels(m.Asks)
	return domain.BookFrame{
		Type:      domain.BookUpdateType,
		Symbol:    m.Symbol,
		Timestamp: m.Timestamp,
		Reset:     m.Reset,
		Bids:      bids,
		Asks:      asks,
	}, rb + ra, true
}

func toLevels(in []WireLevel) ([]domain.PriceLevel, int) {
	out := make([]domain.PriceLevel, 0, len(in))
	rejected := 0
	for _, l := range in {
		if l.Price == nil || l.Size == nil {
			rejected++
			continue
		}
		out = append(out, domain.PriceLevel{Price: *l.Price, Size: *l.Size})
	}
	return out, rejected
}
