// Package poller implements the periodic incremental message fetch loop
// (spec.md §4.6): on each tick it pulls new records from the node,
// decrypts and classifies them, writes them to the message store, and
// emits events to the UI adapter. Grounded on the teacher's
// load.Cache/ticker pattern for the non-reentrant periodic-task shape.
package poller

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flokiorg/depinterm/directory"
	"github.com/flokiorg/depinterm/errs"
	"github.com/flokiorg/depinterm/events"
	"github.com/flokiorg/depinterm/rpcclient"
	"github.com/flokiorg/depinterm/shared"
	"github.com/flokiorg/depinterm/store"
)

// MinInterval and MaxInterval bound the configurable poll period.
const (
	MinInterval = time.Second
	MaxInterval = 60 * time.Second
)

// ClampInterval enforces [MinInterval, MaxInterval] on a configured
// interval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	default:
		return d
	}
}

// Codec is the subset of envelope.Codec the poller depends on.
type Codec interface {
	Open(encryptedPayloadHex, recipientPrivateKey string) (string, error)
	UnwrapFromPool(encryptedHex, recipientPrivateKey string) (string, error)
	ExtractRecipientHashes(encryptedPayloadHex string) []string
}

// Poller periodically fetches, decrypts, classifies, and stores messages,
// emitting events for the UI adapter.
type Poller struct {
	rpc         *rpcclient.Client
	codec       Codec
	store       *store.Store
	dir         *directory.Directory
	bus         *events.Bus
	token       string
	selfAddress string
	recipientPK string
	interval    time.Duration
	notifyDown  func(error)
	log         zerolog.Logger

	mu              sync.Mutex
	isPolling       bool
	wasDisconnected bool
	stopCh          chan struct{}
	running         bool
}

// New constructs a Poller. recipientPrivateKey is the signing key as a WIF
// string, passed through to Codec.Open for per-message decryption.
// notifyDown is called on every poll failure so the Supervisor enters
// Blocked immediately rather than waiting for its own health probe
// (spec.md §4.8's notify_rpc_down); it may be nil in tests that don't
// care about Supervisor wiring.
func New(rpc *rpcclient.Client, codec Codec, st *store.Store, dir *directory.Directory, bus *events.Bus, token, selfAddress, recipientPrivateKey string, interval time.Duration, notifyDown func(error)) *Poller {
	return &Poller{
		rpc:         rpc,
		codec:       codec,
		store:       st,
		dir:         dir,
		bus:         bus,
		token:       token,
		selfAddress: selfAddress,
		recipientPK: recipientPrivateKey,
		interval:    ClampInterval(interval),
		notifyDown:  notifyDown,
		log:         shared.NamedLogger("poller"),
	}
}

// MarkDisconnected forces the next poll to perform a full sync, per the
// Supervisor's reconnection-recovery protocol.
func (p *Poller) MarkDisconnected() {
	p.mu.Lock()
	p.wasDisconnected = true
	p.mu.Unlock()
}

// Start begins the periodic ticker. Calling Start while already running
// is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Poll()
			}
		}
	}()
}

// Stop halts the periodic ticker. The Supervisor owns the Poller's
// lifecycle; the Poller never restarts itself.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Poll runs one poll iteration. Reentrant calls while one is already in
// flight are no-ops.
func (p *Poller) Poll() {
	p.mu.Lock()
	if p.isPolling {
		p.mu.Unlock()
		return
	}
	p.isPolling = true
	wasDisconnected := p.wasDisconnected
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.isPolling = false
		p.mu.Unlock()
	}()

	if !p.rpc.Connected() {
		p.fail(errs.NewRpcError("poll", nil))
		return
	}

	var since uint64
	omitSince := wasDisconnected
	if !wasDisconnected {
		since = p.store.LastTimestamp()
	}

	records, wrapped, err := p.rpc.MsgReceive(p.token, p.selfAddress, since, omitSince)
	if err != nil {
		p.fail(err)
		return
	}

	if wrapped != "" {
		unwrappedJSON, unwrapErr := p.codec.UnwrapFromPool(wrapped, p.recipientPK)
		if unwrapErr != nil {
			p.fail(unwrapErr)
			return
		}
		if jsonErr := json.Unmarshal([]byte(unwrappedJSON), &records); jsonErr != nil {
			p.fail(jsonErr)
			return
		}
	}

	newCount := 0
	for _, rec := range records {
		if rec.Hash == "" || rec.SignatureHex == "" || rec.EncryptedPayloadHex == "" {
			continue
		}

		plaintext, openErr := p.codec.Open(rec.EncryptedPayloadHex, p.recipientPK)
		if openErr != nil {
			continue // not addressed to us, or malformed; expected and silent.
		}

		kind := store.KindGroup
		if strings.EqualFold(rec.MessageType, "private") {
			kind = store.KindPrivate
		}

		var peer *string
		if kind == store.KindPrivate {
			peer = p.resolvePeer(rec)
		}

		msg := store.Message{
			Hash:      rec.Hash,
			Signature: []byte(rec.SignatureHex),
			Sender:    rec.Sender,
			Timestamp: rec.Timestamp,
			Plaintext: plaintext,
			Kind:      kind,
			Peer:      peer,
		}
		if p.store.Add(msg) {
			newCount++
			p.bus.EmitMessage(events.MessagePayload{
				Sender:    rec.Sender,
				Plaintext: plaintext,
				Timestamp: rec.Timestamp,
				Hash:      rec.Hash,
				Kind:      kind.String(),
				Peer:      peer,
			})
		}
	}

	var poolInfo any
	if info, poolErr := p.rpc.MsgPoolInfo(); poolErr == nil {
		poolInfo = info
	}

	p.bus.EmitPollComplete(events.PollCompletePayload{
		Date:     time.Now().Unix(),
		NewCount: newCount,
		Total:    len(p.store.Messages()),
		PoolInfo: poolInfo,
	})

	if wasDisconnected {
		p.mu.Lock()
		p.wasDisconnected = false
		p.mu.Unlock()
		p.bus.EmitReconnected()
	}
}

func (p *Poller) resolvePeer(rec rpcclient.EncryptedEnvelope) *string {
	if rec.Sender == p.selfAddress {
		if addr, ok := p.store.LookupOutgoingPrivate(rec.Hash); ok {
			return &addr
		}
	} else if rec.Sender != "" {
		addr := rec.Sender
		return &addr
	}

	hashes := p.codec.ExtractRecipientHashes(rec.EncryptedPayloadHex)
	if len(hashes) == 0 {
		return nil
	}
	hashMap, err := p.dir.HashMap()
	if err != nil {
		return nil
	}
	for _, h := range hashes {
		if addr, ok := hashMap[h]; ok && addr != p.selfAddress {
			found := addr
			return &found
		}
	}
	return nil
}

func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.wasDisconnected = true
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("poll failed")
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.bus.EmitPollError(msg)
	if p.notifyDown != nil {
		p.notifyDown(err)
	}
}
