package alpaca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

func TestDecoder_BookArray(t *testing.T) {
	raw := []byte(`[
		{"T":"o","S":"BTC/USD","t":"2024-03-12T10:29:43.111588173Z",
		 "b":[{"p":71000.5,"s":0.25},{"p":70999,"s":1}],
		 "a":[{"p":71001,"s":0.5}],"r":true},
		{"T":"t","S":"BTC/USD","p":71000,"s":0.1},
		{"T":"o","S":"BTC/USD","t":"2024-03-12T10:29:43.2Z","b":[{"p":70999,"s":0}],"a":[]}
	]`)

	batch, err := NewDecoder().Decode(raw)
	require.NoError(t, err)
	require.Len(t, batch.Frames, 2)
	assert.Zero(t, batch.Rejected)

	snap := batch.Frames[0]
	assert.True(t, snap.Reset)
	assert.Equal(t, domain.BookUpdateType, snap.Type)
	assert.Equal(t, "BTC/USD", snap.Symbol)
	assert.Equal(t, "2024-03-12T10:29:43.111588173Z", snap.Timestamp)
	assert.Equal(t, []domain.PriceLevel{{Price: 71000.5, Size: 0.25}, {Price: 70999, Size: 1}}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 71001, Size: 0.5}}, snap.Asks)

	delta := batch.Frames[1]
	assert.False(t, delta.Reset)
	assert.Equal(t, []domain.PriceLevel{{Price: 70999, Size: 0}}, delta.Bids)
}

func TestDecoder_SingleObject(t *testing.T) {
	batch, err := NewDecoder().Decode([]byte(`{"T":"o","S":"ETH/USD","t":"x","b":[],"a":[{"p":3000,"s":2}]}`))
	require.NoError(t, err)
	require.Len(t, batch.Frames, 1)
	assert.Equal(t, "ETH/USD", batch.Frames[0].Symbol)
}

func TestDecoder_RejectsIncompleteFrames(t *testing.T) {
	raw := []byte(`[
		{"T":"o","t":"x","b":[{"p":1,"s":1}]},
		{"T":"o","S":"BTC/USD","t":"y","b":[{"p":1},{"s":2},{"p":3,"s":4}]},
		"not-an-object"
	]`)

	batch, err := NewDecoder().Decode(raw)
	require.NoError(t, err)
	require.Len(t, batch.Frames, 1)
	assert.Equal(t, []domain.PriceLevel{{Price: 3, Size: 4}}, batch.Frames[0].Bids)
	// missing symbol + two partial levels + undecodable element
	assert.Equal(t, 4, batch.Rejected)
}

func TestDecoder_ControlMessages(t *testing.T) {
	raw := []byte(`[{"T":"success","msg":"connected"},{"T":"subscription","orderbooks":["BTC/USD"]},{"T":"error","code":405,"msg":"symbol limit exceeded"}]`)

	batch, err := NewDecoder().Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, batch.Frames)
	assert.Equal(t, []string{"error 405: symbol limit exceeded"}, batch.Notices)
}

func TestDecoder_InvalidJSON(t *testing.T) {
	batch, err := NewDecoder().Decode([]byte(`{"T":"o",`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidFrame)
	assert.Equal(t, 1, batch.Rejected)

	_, err = NewDecoder().Decode([]byte("  "))
	assert.ErrorIs(t, err, domain.ErrInvalidFrame)
}
