// Package events implements the UIAdapter-facing event bus of spec.md §6,
// modeled directly on flokiorg-tWallet's load.notification: a mutex-guarded
// subscriber list of buffered channels, best-effort non-blocking broadcast,
// and a sync.Once-guarded unsubscribe.
package events

import "sync"

// Kind identifies which of the six event shapes an Event carries.
type Kind int

const (
	KindMessage Kind = iota
	KindPollComplete
	KindPollError
	KindReconnected
	KindBlockingErrors
	KindBlockingCleared
)

// MessagePayload mirrors §6's Message{sender, plaintext, ts, hash, kind, peer?}.
type MessagePayload struct {
	Sender    string
	Plaintext string
	Timestamp uint64
	Hash      string
	Kind      string
	Peer      *string
}

// PollCompletePayload mirrors §6's PollComplete{date, new_count, total, pool_info?}.
type PollCompletePayload struct {
	Date     int64
	NewCount int
	Total    int
	PoolInfo any
}

// PollErrorPayload mirrors §6's PollError{message}.
type PollErrorPayload struct {
	Message string
}

// BlockingErrorsPayload mirrors §6's BlockingErrors{messages[]}.
type BlockingErrorsPayload struct {
	Messages []string
}

// Event is the envelope delivered to subscribers. Exactly one payload field
// is populated, matching Kind.
type Event struct {
	Kind           Kind
	Message        *MessagePayload
	PollComplete   *PollCompletePayload
	PollError      *PollErrorPayload
	BlockingErrors *BlockingErrorsPayload
}

// Bus is the publish side used by Poller, Sender and Supervisor; Sink is
// the subscribe side consumed by a UIAdapter.
type Bus struct {
	mu   sync.Mutex
	subs []chan *Event
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a receive channel and an idempotent unsubscribe func.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	ch := make(chan *Event, 16)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			for i := range b.subs {
				if b.subs[i] == ch {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, unsubscribe
}

// Publish broadcasts ev to every current subscriber, never blocking on a
// slow or full subscriber.
func (b *Bus) Publish(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *Bus) EmitMessage(p MessagePayload) {
	b.Publish(&Event{Kind: KindMessage, Message: &p})
}

func (b *Bus) EmitPollComplete(p PollCompletePayload) {
	b.Publish(&Event{Kind: KindPollComplete, PollComplete: &p})
}

func (b *Bus) EmitPollError(message string) {
	b.Publish(&Event{Kind: KindPollError, PollError: &PollErrorPayload{Message: message}})
}

func (b *Bus) EmitReconnected() {
	b.Publish(&Event{Kind: KindReconnected})
}

func (b *Bus) EmitBlockingErrors(messages []string) {
	b.Publish(&Event{Kind: KindBlockingErrors, BlockingErrors: &BlockingErrorsPayload{Messages: messages}})
}

func (b *Bus) EmitBlockingCleared() {
	b.Publish(&Event{Kind: KindBlockingCleared})
}
