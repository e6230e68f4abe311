package types

type EventKind string

const (
	EventReadFailed     EventKind = "read_failed"
	EventDecodeFailed   EventKind = "decode_failed"
	EventEncodeFailed   EventKind = "encode_failed"
	EventWriteFailed    EventKind = "write_failed"
	EventWriteDropped   EventKind = "write_dropped"
	EventCleanup        EventKind = "cleanup"
	EventStorageOffline EventKind = "storage_offline"
	EventNewSession     EventKind = "new_session"
	EventFirstTouch     EventKind = "first_touch"
	EventLastTouch      EventKind = "last_touch"
	EventReferrerParse  EventKind = "referrer_parse_failed"
)

// Event is emitted to an Observer; the core never logs on its own.
type Event struct {
	Kind      EventKind
	VisitorID string
	Key       string
	Count     int
	Err       error
}

type Observer func(Event)
