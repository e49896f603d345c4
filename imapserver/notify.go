package imapserver

import (
	"sync"

	"golang.org/x/exp/maps"
)

// EventKind identifies the kind of change a notification hub broadcast
// carries.
type EventKind int

const (
	EventExists EventKind = iota
	EventFlags
	EventExpunge
	EventMailbox // folder created/removed/renamed/(un)subscribed
)

// Event is a single state-changing notification broadcast to every other
// session with the same (account, folder) selected, per spec's
// NotificationHub.
type Event struct {
	Kind    EventKind
	Account string
	Folder  string
	UID     UID  // for Flags/Expunge
	Flags   any  // midb.Flags, for EventFlags
}

// Hub is the process-wide notification hub (C11): the only structure
// touched by multiple connections' goroutines, guarded by a single
// mutex around its session set plus a per-session outbound queue.
type Hub struct {
	mu       sync.Mutex
	sessions map[key]map[*conn]chan Event
}

type key struct {
	account string
	folder  string
}

// NewHub returns an empty notification hub.
func NewHub() *Hub {
	return &Hub{sessions: map[key]map[*conn]chan Event{}}
}

// Register adds c to the hub under (account, folder). c inserts itself
// on SELECT/EXAMINE and must call Unregister on UNSELECT/CLOSE or
// disconnect.
func (h *Hub) Register(c *conn, account, folder string) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := key{account, folder}
	m, ok := h.sessions[k]
	if !ok {
		m = map[*conn]chan Event{}
		h.sessions[k] = m
	}
	ch := make(chan Event, 64)
	m[c] = ch
	return ch
}

// Unregister removes c from the hub, wherever it was registered.
func (h *Hub) Unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, m := range h.sessions {
		if ch, ok := m[c]; ok {
			close(ch)
			delete(m, c)
			if len(m) == 0 {
				delete(h.sessions, k)
			}
		}
	}
}

// Broadcast delivers ev to every other session registered for
// (ev.Account, ev.Folder). The sending session (from) is skipped; it
// applies its own change directly.
func (h *Hub) Broadcast(from *conn, ev Event) {
	h.mu.Lock()
	m := h.sessions[key{ev.Account, ev.Folder}]
	recipients := make(map[*conn]chan Event, len(m))
	for c, ch := range m {
		if c != from {
			recipients[c] = ch
		}
	}
	h.mu.Unlock()

	// Sends happen after the lock is released, using a snapshot of the
	// channels, so a slow consumer never holds up Register/Unregister on
	// other sessions.
	for _, ch := range maps.Values(recipients) {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than block the broadcaster. The next
			// IDLE/NOOP poll's refresh against MIDB will catch up regardless.
		}
	}
}
