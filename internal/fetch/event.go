package fetch

// Event is a lifecycle notification for one download request. Events feed
// the /v1/events websocket and are strictly informational; request state is
// never derived from them.
type Event struct {
	RequestID string    `json:"request_id"`
	URL       string    `json:"url"`
	Backend   string    `json:"backend,omitempty"`
	Type      EventType `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
}

// EventType enumerates the orchestrator's observable transitions.
type EventType string

const (
	EventResolving  EventType = "Resolving"
	EventAttempting EventType = "Attempting"
	EventFallback   EventType = "Fallback"
	EventFetched    EventType = "Fetched"
	EventProcessing EventType = "Processing"
	EventUploading  EventType = "Uploading"
	EventComplete   EventType = "Complete"
	EventFailed     EventType = "Failed"
	EventProgress   EventType = "Progress"
)

// Progress carries transfer counters when a backend reports them.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total,omitempty"`
}

// Reporter publishes download lifecycle events.
type Reporter interface {
	Report(Event)
}

// ChanReporter writes events to a channel, dropping when the consumer lags
// so a slow subscriber can never stall a download.
type ChanReporter struct {
	ch chan<- Event
}

func NewChanReporter(ch chan<- Event) *ChanReporter { return &ChanReporter{ch: ch} }

func (r *ChanReporter) Report(e Event) {
	if r == nil {
		return
	}
	select {
	case r.ch <- e:
	default:
	}
}

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) Report(Event) {}
