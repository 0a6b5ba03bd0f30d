// Package supervisor implements the Verifying/Running/Blocked retry loop
// (spec.md §4.8): the sole retry timer in the system, collapsing RPC
// outages and unmet preconditions into one 30-second countdown, and
// performing a full resync on recovery. Grounded on
// flokiorg-tWallet/load/load.go's MonitorRecovery ctx+ticker retry shape.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flokiorg/depinterm/directory"
	"github.com/flokiorg/depinterm/events"
	"github.com/flokiorg/depinterm/rpcclient"
	"github.com/flokiorg/depinterm/shared"
	"github.com/flokiorg/depinterm/store"
)

// RetryInterval is VERIFICATION_RETRY_MS.
const RetryInterval = 30 * time.Second

// State is one of the three supervisor states.
type State int

const (
	StateVerifying State = iota
	StateRunning
	StateBlocked
)

// Preconditions checks the two non-RPC startup conditions: the address
// still holds the token, and its pubkey has been revealed on-chain.
// Each check returns an error whose message describes the failure, nil if ok.
type Preconditions interface {
	VerifyTokenOwnership(selfAddress, token string) error
	CheckPubkeyRevealed(selfAddress string) error
}

// PollerHandle is the subset of poller.Poller the supervisor drives.
type PollerHandle interface {
	Start()
	Stop()
	Poll()
	MarkDisconnected()
}

// Supervisor owns the poller lifecycle and the startup/recovery retry
// countdown.
type Supervisor struct {
	rpc        *rpcclient.Client
	preconds   Preconditions
	poller     PollerHandle
	dir        *directory.Directory
	bus        *events.Bus
	selfAddr   string
	token      string
	newStore   func() *store.Store
	attachStore func(*store.Store)

	mu    sync.Mutex
	state State
	log   zerolog.Logger

	cancel  context.CancelFunc
	resetCh chan struct{}
}

// New constructs a Supervisor. newStore builds a fresh MessageStore for
// full-resync-on-recovery; attachStore lets the caller rewire the
// poller/UI to the freshly constructed store.
func New(rpc *rpcclient.Client, preconds Preconditions, poller PollerHandle, dir *directory.Directory, bus *events.Bus, selfAddr, token string, newStore func() *store.Store, attachStore func(*store.Store)) *Supervisor {
	return &Supervisor{
		rpc:         rpc,
		preconds:    preconds,
		poller:      poller,
		dir:         dir,
		bus:         bus,
		selfAddr:    selfAddr,
		token:       token,
		newStore:    newStore,
		attachStore: attachStore,
		state:       StateVerifying,
		log:         shared.NamedLogger("supervisor"),
		resetCh:     make(chan struct{}, 1),
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run starts the verification loop; it blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.tick()
	timer := time.NewTimer(RetryInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(RetryInterval)
		case <-timer.C:
			s.tick()
			timer.Reset(RetryInterval)
		}
	}
}

// Stop cancels the verification loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ReconnectOnce probes the RPC connection once, used by the Sender before
// giving up on a down connection.
func (s *Supervisor) ReconnectOnce(silent bool) bool {
	return s.rpc.Reconnect(silent)
}

// NotifyRPCDown is called by the Poller's error path: it marks the
// connection down, stops the poller, shows Blocked, and resets the
// countdown so UI feedback matches the actual next retry.
func (s *Supervisor) NotifyRPCDown(err error) {
	s.mu.Lock()
	previousState := s.state
	s.state = StateBlocked
	s.mu.Unlock()

	s.poller.MarkDisconnected()
	s.poller.Stop()

	messages := []string{}
	if err != nil {
		messages = append(messages, err.Error())
	}
	s.bus.EmitBlockingErrors(messages)

	if previousState == StateRunning {
		s.log.Warn().Err(err).Msg("rpc reported down, entering blocked state")
	}

	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

func (s *Supervisor) tick() {
	var connected bool
	if !s.rpc.Connected() {
		connected = s.rpc.Reconnect(true)
	} else {
		connected = s.rpc.TestConnection(true)
	}

	var failures []string
	if connected {
		if err := s.preconds.VerifyTokenOwnership(s.selfAddr, s.token); err != nil {
			failures = append(failures, err.Error())
		}
		if err := s.preconds.CheckPubkeyRevealed(s.selfAddr); err != nil {
			failures = append(failures, err.Error())
		}
	} else {
		failures = append(failures, "rpc unavailable")
	}

	s.mu.Lock()
	previousState := s.state
	s.mu.Unlock()

	if len(failures) > 0 {
		s.mu.Lock()
		s.state = StateBlocked
		s.mu.Unlock()
		s.poller.Stop()
		s.bus.EmitBlockingErrors(failures)
		return
	}

	if previousState == StateBlocked {
		// Recovery: full resync.
		fresh := s.newStore()
		s.attachStore(fresh)
		s.poller.MarkDisconnected()

		if _, err := s.dir.Refresh(true); err != nil {
			s.log.Warn().Err(err).Msg("forced directory refresh failed during recovery")
		}

		s.mu.Lock()
		s.state = StateRunning
		s.mu.Unlock()

		s.bus.EmitBlockingCleared()
		s.poller.Start()
		s.poller.Poll()
		return
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.poller.Start()
}
