// Package replay records published snapshots to a JSON file and plays such
// files back through the book, for backtests and offline debugging.
package replay

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Record is one snapshot in a recording. A recording is a JSON array of
// records in publish order.
type Record struct {
	Asset string     `json:"asset"`
	Time  string     `json:"time"`
	Data  RecordData `json:"data"`
}

// RecordData holds the ladders, bids descending and asks ascending.
type RecordData struct {
	Bids []domain.PriceLevel `json:"bids"`
	Asks []domain.PriceLevel `json:"asks"`
}

// FromSnapshot converts a published snapshot. The wire timestamp of the
// last applied frame becomes the record time.
func FromSnapshot(snap domain.BookSnapshot) Record {
	return Record{
		Asset: snap.Symbol,
		Time:  snap.Source,
		Data: RecordData{
			Bids: nonNil(snap.Bids),
			Asks: nonNil(snap.Asks),
		},
	}
}

// Frame turns the record into a reset frame for symbol when the record
// carries no asset of its own.
func (r Record) Frame(symbol string) domain.BookFrame {
	if r.Asset != "" {
		symbol = r.Asset
	}
	return domain.BookFrame{
		Type:      domain.BookUpdateType,
		Symbol:    symbol,
		Timestamp: r.Time,
		Reset:     true,
		Bids:      r.Data.Bids,
		Asks:      r.Data.Asks,
	}
}

// Decode reads a recording.
func Decode(r io.Reader) ([]Record, error) {
	var recs []Record
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("replay: decode recording: %w", err)
	}
	return recs, nil
}

func nonNil(levels []domain.PriceLevel) []domain.PriceLevel {
	if levels == nil {
		return []domain.PriceLevel{}
	}
	return levels
}
