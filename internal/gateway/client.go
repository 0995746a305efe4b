package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/easiwork/internal/logging"
)

// Subscriber is a websocket connection attached to one session.
type Subscriber struct {
	ConnID      string
	SessionID   string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex // serializes data frames
	closed atomic.Bool
	log    *logging.Logger
}

func newSubscriber(sessionID string, conn *websocket.Conn, log *logging.Logger) *Subscriber {
	return &Subscriber{
		ConnID:      uuid.New().String(),
		SessionID:   sessionID,
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// Send writes v as a JSON text frame. Thread-safe.
func (c *Subscriber) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(v)
}

func (c *Subscriber) writeLocked(v any) error {
	if c.closed.Load() {
		return ErrSubscriberClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(v)
}

// Close sends a close frame and closes the connection. It does not take the
// write lock: closing the socket unblocks a writer stuck in Send.
func (c *Subscriber) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced")
	c.Socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.Socket.Close()
}

// subscriberRegistry holds the current subscriber of each session.
type subscriberRegistry struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber // sessionID → Subscriber
	log  *logging.Logger
}

func newSubscriberRegistry(log *logging.Logger) *subscriberRegistry {
	return &subscriberRegistry{
		subs: make(map[string]*Subscriber),
		log:  log,
	}
}

// Swap registers c for its session and returns the subscriber it replaced.
func (r *subscriberRegistry) Swap(c *Subscriber) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.subs[c.SessionID]
	r.subs[c.SessionID] = c
	r.log.Debug().Str("connId", c.ConnID).Str("sessionId", c.SessionID).Msg("subscriber registered")
	return old
}

// RemoveIf unregisters c if it is still the session's subscriber.
func (r *subscriberRegistry) RemoveIf(c *Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[c.SessionID] != c {
		return false
	}
	delete(r.subs, c.SessionID)
	return true
}

// Get returns the subscriber of a session.
func (r *subscriberRegistry) Get(sessionID string) (*Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.subs[sessionID]
	return c, ok
}

// Count returns the number of attached subscribers.
func (r *subscriberRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll closes and unregisters every subscriber.
func (r *subscriberRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.subs {
		c.Close()
		delete(r.subs, id)
	}
}
