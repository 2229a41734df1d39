package domain

import "time"

// BookUpdateType is the wire type tag carried by order-book frames. Frames
// with any other tag are ignored by the book.
const BookUpdateType = "o"

// PriceLevel is a single price+size entry in a ladder. A size of zero in a
// delta is a deletion sentinel and is never stored.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookFrame is one validated order-book message for a single symbol.
// Timestamp doubles as the snapshot identifier for reset frames.
type BookFrame struct {
	Type      string
	Symbol    string
	Timestamp string
	Reset     bool
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// IsBookUpdate reports whether the frame carries the book-update tag.
func (f BookFrame) IsBookUpdate() bool {
	return f.Type == BookUpdateType
}

// BookSnapshot is an immutable copy of the ladders taken at publish time. It
// owns its slices; nothing else holds a reference to them.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Sequence  uint64       `json:"sequence"`
	Bids      []PriceLevel `json:"bids"` // descending price
	Asks      []PriceLevel `json:"asks"` // ascending price
	BestBid   PriceLevel   `json:"best_bid"`
	BestAsk   PriceLevel   `json:"best_ask"`
	HasBid    bool         `json:"has_bid"`
	HasAsk    bool         `json:"has_ask"`
	Spread    float64      `json:"spread"`
	MidPrice  float64      `json:"mid_price"`
	Source    string       `json:"source"` // wire timestamp of the last applied frame
	Timestamp time.Time    `json:"timestamp"`
}

// HasBBO reports whether both sides are populated, i.e. Spread and MidPrice
// are defined.
func (s BookSnapshot) HasBBO() bool {
	return s.HasBid && s.HasAsk
}

// Clone returns a deep copy of the snapshot.
func (s BookSnapshot) Clone() BookSnapshot {
	out := s
	out.Bids = append([]PriceLevel(nil), s.Bids...)
	out.Asks = append([]PriceLevel(nil), s.Asks...)
	return out
}

// FrameBatch is the result of decoding one raw transport message, which may
// carry several frames. Rejected counts frames or level entries that failed
// schema validation and were skipped.
type FrameBatch struct {
	Frames   []BookFrame
	Rejected int
	Notices  []string // server control messages worth logging
}
