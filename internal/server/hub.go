package server

import (
	"context"
	"errors"
	"html"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fabregas/media-chat/internal/history"
)

// ErrHubClosed is returned by hub operations after shutdown has begun.
var ErrHubClosed = errors.New("hub closed")

const timeLayout = "15:04:05"

type joinRequest struct {
	username string
	reply    chan joinResult
}

type joinResult struct {
	session *Session
	err     error
}

type publishRequest struct {
	from *Session
	text string
}

// Hub serializes joins, leaves and broadcasts through a single goroutine.
// Rendering happens before a message reaches the hub, so fan-out and the
// history append never wait on the network.
type Hub struct {
	registry *Registry
	history  *history.Store
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time

	joins    chan joinRequest
	leaves   chan *Session
	messages chan publishRequest

	clientsMu sync.Mutex
	clients   map[*Client]bool // value reports whether the client joined
	wg        sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	quit      chan struct{}
	quitOnce  sync.Once
	startOnce sync.Once
	done      chan struct{}
}

func NewHub(registry *Registry, store *history.Store, metrics *Metrics, log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: registry,
		history:  store,
		metrics:  metrics,
		log:      log.With().Str("component", "hub").Logger(),
		now:      time.Now,
		joins:    make(chan joinRequest),
		leaves:   make(chan *Session),
		messages: make(chan publishRequest),
		clients:  make(map[*Client]bool),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Context is cancelled once the hub has shut down. Per-connection contexts
// derive from it so in-flight link probes stop with the hub.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Run processes hub events until Shutdown is called. Only the first call
// runs the loop, and none does once Shutdown has begun.
func (h *Hub) Run() {
	owner := false
	h.startOnce.Do(func() { owner = true })
	if !owner {
		return
	}
	defer close(h.done)
	h.metrics.historyEntries.Set(float64(h.history.Len()))

	for {
		select {
		case <-h.quit:
			h.stop()
			return

		case req := <-h.joins:
			session, err := h.handleJoin(req.username)
			req.reply <- joinResult{session: session, err: err}

		case s := <-h.leaves:
			h.handleLeave(s)

		case msg := <-h.messages:
			h.handlePublish(msg)
		}
	}
}

// Join registers username and announces it to the sessions already present.
func (h *Hub) Join(username string) (*Session, error) {
	req := joinRequest{username: username, reply: make(chan joinResult, 1)}
	select {
	case h.joins <- req:
	case <-h.done:
		return nil, ErrHubClosed
	}
	res := <-req.reply
	return res.session, res.err
}

// Leave removes s and announces the departure. Calling it for a session that
// is already gone does nothing.
func (h *Hub) Leave(s *Session) {
	if s == nil {
		return
	}
	select {
	case h.leaves <- s:
	case <-h.done:
	}
}

// Publish fans a rendered message from s out to every session and records it
// in history. Messages from sessions no longer registered are discarded.
func (h *Hub) Publish(s *Session, rendered string) error {
	select {
	case h.messages <- publishRequest{from: s, text: rendered}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) handleJoin(username string) (*Session, error) {
	session, peers, err := h.registry.Join(username)
	if err != nil {
		h.metrics.joinsRejected.Inc()
		h.log.Info().Str("user", username).Msg("join rejected: username taken")
		return nil, err
	}

	h.metrics.sessionsJoined.Inc()
	h.metrics.activeSessions.Set(float64(h.registry.Len()))
	h.log.Info().
		Str("user", username).
		Stringer("session", session.ID).
		Int("peers", len(peers)).
		Msg("session joined")

	h.deliver(peers, h.notice(html.EscapeString(username) + " joined"))
	return session, nil
}

func (h *Hub) handleLeave(s *Session) {
	if !h.registry.Leave(s) {
		return
	}
	h.retire(s, "session left")
}

// retire closes a session already removed from the registry and tells the
// remaining sessions.
func (h *Hub) retire(s *Session, reason string) {
	s.close()
	h.metrics.disconnects.Inc()
	h.metrics.activeSessions.Set(float64(h.registry.Len()))
	h.log.Info().Str("user", s.Username).Stringer("session", s.ID).Msg(reason)

	h.deliver(h.registry.Snapshot(), h.notice(html.EscapeString(s.Username) + " disconnected"))
}

func (h *Hub) handlePublish(msg publishRequest) {
	if !h.registry.Contains(msg.from) {
		h.log.Debug().Str("user", msg.from.Username).Msg("dropping message from departed session")
		return
	}

	stamp := h.now().Format(timeLayout)
	frame := encodeFrame(ChatFrame{User: msg.from.Username, Message: msg.text, Time: stamp})
	reached := h.deliver(h.registry.Snapshot(), frame)

	h.history.Push(history.Entry{Time: stamp, User: msg.from.Username, Message: msg.text})
	h.metrics.messagesBroadcast.Inc()
	h.metrics.broadcastFanout.Observe(float64(reached))
	h.metrics.historyEntries.Set(float64(h.history.Len()))
}

// deliver queues frame on every target and returns how many accepted it.
// Sessions whose buffer is full are dropped as slow consumers.
func (h *Hub) deliver(targets []*Session, frame []byte) int {
	var slow []*Session
	reached := 0
	for _, s := range targets {
		if s.offer(frame) {
			reached++
			continue
		}
		slow = append(slow, s)
	}
	for _, s := range slow {
		if h.registry.Leave(s) {
			h.retire(s, "session dropped: send buffer full")
		}
	}
	return reached
}

// notice builds a system frame. text is markup: callers escape user input.
func (h *Hub) notice(text string) []byte {
	return encodeFrame(ChatFrame{User: SystemUser, Message: text, Time: h.now().Format(timeLayout)})
}

// track records a connection so shutdown can reach it before it joins.
func (h *Hub) track(c *Client) bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	select {
	case <-h.quit:
		return false
	default:
	}
	h.clients[c] = false
	h.wg.Add(1)
	return true
}

// attach marks c as joined; from then on shutdown reaches it through its
// session instead of closing the connection outright.
func (h *Hub) attach(c *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		h.clients[c] = true
	}
	h.clientsMu.Unlock()
}

func (h *Hub) untrack(c *Client) {
	h.clientsMu.Lock()
	delete(h.clients, c)
	h.clientsMu.Unlock()
	h.wg.Done()
}

// closeAll closes every session's outbound channel, which makes its write
// pump send a close frame, and drops connections still in the handshake.
func (h *Hub) closeAll() {
	sessions := h.registry.Drain()
	for _, s := range sessions {
		s.close()
	}
	h.metrics.activeSessions.Set(0)

	h.clientsMu.Lock()
	pending := make([]*Client, 0, len(h.clients))
	for c, joined := range h.clients {
		if !joined {
			pending = append(pending, c)
		}
	}
	h.clientsMu.Unlock()
	for _, c := range pending {
		c.closeConn()
	}

	h.log.Info().Int("sessions", len(sessions)).Int("handshaking", len(pending)).Msg("closed client connections")
}

func (h *Hub) stop() {
	h.closeAll()
	h.cancel()
}

// Shutdown stops the hub and waits up to timeout for client goroutines. A hub
// that never ran is stopped in place.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")
	h.quitOnce.Do(func() {
		h.clientsMu.Lock()
		close(h.quit)
		h.clientsMu.Unlock()
		h.startOnce.Do(func() {
			h.stop()
			close(h.done)
		})
	})
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Dur("timeout", timeout).Msg("hub shutdown timed out, client goroutines still running")
		return context.DeadlineExceeded
	}
}
