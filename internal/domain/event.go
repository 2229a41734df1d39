package domain

import "time"

// EventKind discriminates the payload carried by an Event.
type EventKind int

const (
	EventBookUpdate EventKind = iota + 1
	EventSignal
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventBookUpdate:
		return "book_update"
	case EventSignal:
		return "signal"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is the unit passed between pipeline stages. Exactly one payload field
// is meaningful, selected by Kind.
type Event struct {
	Kind      EventKind
	Book      BookSnapshot
	Signal    Signal
	Err       error
	Timestamp time.Time
}

// NewBookEvent wraps a snapshot. The snapshot must already be a copy.
func NewBookEvent(snap BookSnapshot) Event {
	return Event{Kind: EventBookUpdate, Book: snap, Timestamp: time.Now()}
}

// NewSignalEvent wraps a trading signal.
func NewSignalEvent(sig Signal) Event {
	return Event{Kind: EventSignal, Signal: sig, Timestamp: time.Now()}
}

// NewFatalEvent reports an unrecoverable condition to downstream stages.
func NewFatalEvent(err error) Event {
	return Event{Kind: EventFatal, Err: err, Timestamp: time.Now()}
}
