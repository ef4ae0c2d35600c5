// Package history keeps a bounded, newest-first scrollback of chat messages
// and round-trips it through a versioned binary dump file.
package history

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 100

// Entry is one recorded chat message. Time is formatted as HH:MM:SS.
type Entry struct {
	Time    string
	User    string
	Message string
}

// MarshalJSON encodes the entry as a [time, user, message] triple.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Time, e.User, e.Message})
}

// UnmarshalJSON decodes a [time, user, message] triple.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var triple [3]string
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("decode history entry: %w", err)
	}
	e.Time, e.User, e.Message = triple[0], triple[1], triple[2]
	return nil
}

// Store is a fixed-capacity ring of entries, newest first. When full, a push
// evicts the oldest entry. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	buf  []Entry
	head int // slot of the newest entry
	size int
}

// New creates an empty Store. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]Entry, capacity)}
}

// Cap returns the capacity of the store.
func (s *Store) Cap() int {
	return len(s.buf)
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Push inserts e as the newest entry.
func (s *Store) Push(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLocked(e)
}

func (s *Store) pushLocked(e Entry) {
	s.head = (s.head - 1 + len(s.buf)) % len(s.buf)
	s.buf[s.head] = e
	if s.size < len(s.buf) {
		s.size++
	}
}

// at returns the i-th entry counting from the newest. Caller holds the lock.
func (s *Store) at(i int) Entry {
	return s.buf[(s.head+i)%len(s.buf)]
}

// Slice returns up to count entries starting offset positions from the
// newest, newest first. Out-of-range requests yield an empty slice.
func (s *Store) Slice(count, offset int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 || offset < 0 || offset >= s.size {
		return []Entry{}
	}
	n := min(count, s.size-offset)
	out := make([]Entry, n)
	for i := range n {
		out[i] = s.at(offset + i)
	}
	return out
}

// Window returns the same entries as Slice in chronological order, oldest
// first, which is how clients receive them.
func (s *Store) Window(count, offset int) []Entry {
	out := s.Slice(count, offset)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Entries returns every entry, newest first.
func (s *Store) Entries() []Entry {
	return s.Slice(len(s.buf), 0)
}

// Dump serializes the whole sequence in the versioned dump format.
func (s *Store) Dump() []byte {
	return Encode(s.Entries())
}

// Restore replaces the contents with a decoded dump. Only the newest Cap()
// entries are kept. On error the store is left unchanged.
func (s *Store) Restore(data []byte) error {
	entries, err := Decode(data)
	if err != nil {
		return err
	}
	if len(entries) > len(s.buf) {
		entries = entries[:len(s.buf)]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.head, s.size = 0, 0
	clear(s.buf)
	for i := len(entries) - 1; i >= 0; i-- {
		s.pushLocked(entries[i])
	}
	return nil
}
