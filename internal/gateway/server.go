// Package gateway serves the realtime channel: remote subscribers attach to
// a session over a websocket and receive its transcript as it grows.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/easiwork/internal/agent"
	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/hooks"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/soyeahso/easiwork/internal/session"
)

var ErrSubscriberClosed = errors.New("subscriber connection closed")

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Sessions looks up existing sessions by id, restoring persisted ones.
type Sessions interface {
	Lookup(ctx context.Context, id string) (*session.Session, error)
}

// Server is the realtime channel HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	sessions Sessions
	log      *logging.Logger
	subs     *subscriberRegistry
	hooks    *hooks.Manager

	seqMu sync.Mutex
	seq   map[string]uint64

	mu        sync.Mutex
	startedAt time.Time
	addr      string

	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a new gateway server over sessions.
func New(cfg config.GatewayConfig, sessions Sessions, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		sessions:    sessions,
		log:         log.Sub("gateway"),
		subs:        newSubscriberRegistry(log.Sub("subscribers")),
		seq:         make(map[string]uint64),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins(cfg.AllowedOrigins).allowsUpgrade,
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// listenAddr maps the bind mode to a host:port. Unknown modes stay on
// loopback.
func listenAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan", "auto":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// Handler returns the routed HTTP handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, accessLog(s.log), requestID, cors(s.cfg.AllowedOrigins))
}

// Start serves HTTP and websocket traffic until ctx ends, then closes every
// subscriber and shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", listenAddr(s.cfg))
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if s.cfg.Auth.Token == "" && s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("no gateway token set; any host on the network can watch sessions")
	}
	s.log.Info().
		Str("addr", s.Addr()).
		Bool("auth", s.cfg.Auth.Token != "").
		Msg("gateway listening")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.Addr()})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		return fmt.Errorf("gateway serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("gateway stopping")
	s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
	s.subs.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr is the bound listen address, empty until Start has listened.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Subscribe attaches conn to a session: the current transcript is sent as a
// single JSON array, then conn receives every event published for the
// session. An existing subscriber for the same session is replaced and
// closed. Unknown sessions fail with session.ErrNotFound.
func (s *Server) Subscribe(ctx context.Context, sessionID string, conn *websocket.Conn) (*Subscriber, error) {
	sess, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sub := newSubscriber(sessionID, conn, s.log.Sub("ws"))

	// Events published after registration wait on the write lock, so they
	// always follow the snapshot.
	sub.mu.Lock()
	if old := s.subs.Swap(sub); old != nil {
		s.log.Info().
			Str("sessionId", sessionID).
			Str("replaced", old.ConnID).
			Str("connId", sub.ConnID).
			Msg("subscriber replaced")
		old.Close()
	}
	err = sub.writeLocked(snapshotFrame(sess.Snapshot()))
	sub.mu.Unlock()

	if err != nil {
		s.subs.RemoveIf(sub)
		sub.Close()
		return nil, fmt.Errorf("sending snapshot: %w", err)
	}
	return sub, nil
}

func snapshotFrame(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}

// Publish sends ev to the session's subscriber, if any. It assigns the
// per-session sequence number.
func (s *Server) Publish(sessionID string, ev agent.Event) {
	s.seqMu.Lock()
	s.seq[sessionID]++
	ev.Seq = s.seq[sessionID]
	s.seqMu.Unlock()
	ev.SessionID = sessionID

	sub, ok := s.subs.Get(sessionID)
	if !ok {
		return
	}
	if err := sub.Send(ev); err != nil {
		s.log.Warn().Err(err).Str("sessionId", sessionID).Str("connId", sub.ConnID).Msg("dropping subscriber")
		s.subs.RemoveIf(sub)
		sub.Close()
	}
}

// Forget drops the sequence counter of a session that was evicted from the
// session store.
func (s *Server) Forget(sessionID string) {
	s.seqMu.Lock()
	delete(s.seq, sessionID)
	s.seqMu.Unlock()
}

// Streams returns the number of sessions with a live event sequence.
func (s *Server) Streams() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return len(s.seq)
}

// handleSubscribe upgrades GET /{sessionID} to a websocket subscription.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		writeJSONError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	if res := authorize(r, s.cfg.Auth.Token); !res.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("subscriber rejected")
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	sessionID := r.PathValue("sessionID")
	log := s.log.With("sessionId", sessionID)

	sub, err := s.Subscribe(r.Context(), sessionID, conn)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("subscription to unknown session")
		} else {
			log.Error().Err(err).Msg("subscribe failed")
		}
		// The connection stays open and drained but never receives events.
		s.drain(conn, log)
		conn.Close()
		return
	}

	log.Info().Str("connId", sub.ConnID).Str("remote", r.RemoteAddr).Msg("subscriber attached")
	s.drain(conn, log)
	if s.subs.RemoveIf(sub) {
		log.Debug().Str("connId", sub.ConnID).Msg("subscriber detached")
	}
	sub.Close()
}

// drain reads and discards inbound frames until the connection ends.
func (s *Server) drain(conn *websocket.Conn, log *logging.Logger) {
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Msg("subscriber closed connection")
			} else if !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("read error")
			}
			return
		}
		if typ == websocket.TextMessage {
			log.Debug().Str("text", string(msg)).Msg("ignoring inbound message")
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
