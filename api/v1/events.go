package v1

import (
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vidfetch/vidfetch/internal/fetch"
)

// EventHub fans download lifecycle events out to any number of websocket
// subscribers. Subscribers that fall behind lose events rather than slow
// the producer down.
type EventHub struct {
	src <-chan fetch.Event

	mu   sync.Mutex
	subs map[chan fetch.Event]struct{}
}

func NewEventHub(src <-chan fetch.Event) *EventHub {
	return &EventHub{src: src, subs: make(map[chan fetch.Event]struct{})}
}

// Run pumps events from the source channel to all subscribers until the
// source closes.
func (h *EventHub) Run() {
	for e := range h.src {
		h.mu.Lock()
		for ch := range h.subs {
			select {
			case ch <- e:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *EventHub) subscribe() (<-chan fetch.Event, func()) {
	ch := make(chan fetch.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// EventsHandler upgrades to a websocket and streams events until the client
// disconnects.
type EventsHandler struct {
	l   *slog.Logger
	hub *EventHub
}

func NewEventsHandler(l *slog.Logger, hub *EventHub) *EventsHandler {
	return &EventsHandler{l: l, hub: hub}
}

func (eh *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		eh.l.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event feed closed")

	// Drain client frames so pings are answered; we never expect payloads.
	ctx := conn.CloseRead(r.Context())

	events, cancel := eh.hub.subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e := <-events:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				return
			}
		}
	}
}
