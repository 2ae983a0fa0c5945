// Package feed streams session state changes to websocket clients. Each
// connection first receives the current state, then every subsequent event.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/authpipe/internal/session"
)

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Options configures a Hub. Zero values pick defaults.
type Options struct {
	// Buffer is the per-client event backlog; a client that falls further
	// behind is disconnected.
	Buffer         int
	WriteTimeout   time.Duration
	OriginPatterns []string
}

type subscriber struct {
	events    chan session.Event
	closeSlow func()
}

// Hub fans session events out to connected websocket clients.
type Hub struct {
	opts     Options
	snapshot func() session.Event
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New creates a Hub. snapshot, if non-nil, produces the event sent to each
// client on connect.
func New(opts Options, snapshot func() session.Event, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Hub{
		opts:     opts,
		snapshot: snapshot,
		logger:   logger,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Publish delivers ev to every client without blocking. Its signature fits
// session.Controller.Subscribe.
func (h *Hub) Publish(ev session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.events <- ev:
		default:
			delete(h.subs, s)
			go s.closeSlow()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.logger.Warn("feed: websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	err = h.stream(r.Context(), conn)

	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		h.logger.Debug("feed: client disconnected")
	default:
		h.logger.Info("feed: client dropped", slog.String("error", err.Error()))
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn) error {
	s := &subscriber{
		events: make(chan session.Event, h.opts.Buffer),
		closeSlow: func() {
			conn.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with events")
		},
	}

	h.add(s)
	defer h.remove(s)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx = conn.CloseRead(ctx)

	if h.snapshot != nil {
		if err := h.write(ctx, conn, h.snapshot()); err != nil {
			return err
		}
	}

	for {
		select {
		case ev := <-s.events:
			if err := h.write(ctx, conn, ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, ev session.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, ev)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs[s] = struct{}{}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, s)
}
