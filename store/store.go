// Package store holds the in-memory, deduplicated message log (§4.5).
package store

import (
	"fmt"
	"sort"
	"sync"
)

// Kind classifies a stored message as a group broadcast or a private
// message addressed to (or from) a specific peer.
type Kind int

const (
	KindGroup Kind = iota
	KindPrivate
)

func (k Kind) String() string {
	if k == KindPrivate {
		return "private"
	}
	return "group"
}

// Message is the ordered, deduplicated unit held by the Store.
type Message struct {
	Hash      string
	Signature []byte
	Sender    string
	Timestamp uint64
	Plaintext string
	Kind      Kind
	Peer      *string // nil for Group; for Private, an address != self, or nil if unresolved
}

func (m Message) dedupKey() string {
	return fmt.Sprintf("%s|%x", m.Hash, m.Signature)
}

// Store is the MessageStore of §4.5: ordered by (timestamp asc, hash asc),
// deduplicated by (hash, signature), mutex-guarded like the teacher's
// load.Cache.
type Store struct {
	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
	outgoing map[string]string // message hash -> peer address
}

func New() *Store {
	return &Store{
		seen:     make(map[string]struct{}),
		outgoing: make(map[string]string),
	}
}

// Add inserts msg if its (hash, signature) pair hasn't been seen this run.
// Returns true if the message was newly inserted.
func (s *Store) Add(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.dedupKey()
	if _, ok := s.seen[key]; ok {
		return false
	}

	s.seen[key] = struct{}{}
	s.messages = append(s.messages, msg)
	sort.SliceStable(s.messages, func(i, j int) bool {
		a, b := s.messages[i], s.messages[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Hash < b.Hash
	})
	return true
}

// Messages returns a snapshot of the ordered log.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastTimestamp returns the maximum timestamp across stored messages, or 0.
func (s *Store) LastTimestamp() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max uint64
	for _, m := range s.messages {
		if m.Timestamp > max {
			max = m.Timestamp
		}
	}
	return max
}

// RegisterOutgoingPrivate records the peer address for a message hash this
// client has just submitted.
func (s *Store) RegisterOutgoingPrivate(hash, peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing[hash] = peer
}

// LookupOutgoingPrivate returns the peer address registered for hash, if any.
func (s *Store) LookupOutgoingPrivate(hash string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.outgoing[hash]
	return peer, ok
}

// Clear resets the store to empty — used on full resync after reconnection.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.outgoing = make(map[string]string)
}
