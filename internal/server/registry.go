package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// SystemUser is the sender name of join, leave and rejection notices.
const SystemUser = "SERVER"

var (
	ErrUsernameTaken   = errors.New("username already taken")
	ErrInvalidUsername = errors.New("invalid username")
)

// Session is a joined chat participant. Its outbound channel is written only
// by the hub goroutine and drained by the connection's write pump.
type Session struct {
	ID       uuid.UUID
	Username string
	JoinedAt time.Time

	send      chan []byte
	closeOnce sync.Once
}

func newSession(username string, buffer int, joinedAt time.Time) *Session {
	return &Session{
		ID:       uuid.New(),
		Username: username,
		JoinedAt: joinedAt,
		send:     make(chan []byte, buffer),
	}
}

// Outbound returns the channel of frames queued for the connection. It is
// closed when the session is removed.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// offer queues frame without blocking and reports whether it fit.
func (s *Session) offer(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// NormalizeUsername trims a handshake frame and checks it is a usable name of
// at most maxLen characters.
func NormalizeUsername(raw string, maxLen int) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidUsername)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidUsername)
	case utf8.RuneCountInString(name) > maxLen:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidUsername, maxLen)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: contains control characters", ErrInvalidUsername)
	case name == SystemUser:
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidUsername, name)
	}
	return name, nil
}

// Registry is the set of joined sessions keyed by username. At most one
// session holds a given username at any instant.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	sendBuffer int
	now        func() time.Time
}

func NewRegistry(sendBuffer int) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		sendBuffer: sendBuffer,
		now:        time.Now,
	}
}

// Join registers a new session for username. It returns the session and the
// sessions that were active before it joined, or ErrUsernameTaken.
func (r *Registry) Join(username string) (*Session, []*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[username]; taken {
		return nil, nil, fmt.Errorf("%w: %q", ErrUsernameTaken, username)
	}
	peers := lo.Values(r.sessions)
	s := newSession(username, r.sendBuffer, r.now())
	r.sessions[username] = s
	return s, peers, nil
}

// Leave removes s and reports whether it was registered. Removing a session
// twice, or one that never joined, is a no-op.
func (r *Registry) Leave(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.Username]; !ok || current != s {
		return false
	}
	delete(r.sessions, s.Username)
	return true
}

// Contains reports whether s is still registered.
func (r *Registry) Contains(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s != nil && r.sessions[s.Username] == s
}

// Snapshot returns a copy of the active sessions, safe to iterate while the
// registry changes.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.sessions)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain removes and returns every session.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := lo.Values(r.sessions)
	clear(r.sessions)
	return all
}
