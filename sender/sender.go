// Package sender implements the outbound send pipeline (spec.md §4.7):
// parses @address-prefixed private messages vs. group broadcasts,
// resolves recipient pubkeys via the directory, builds and optionally
// pool-wraps an envelope, and submits it to the node.
package sender

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flokiorg/depinterm/cryptomsg"
	"github.com/flokiorg/depinterm/directory"
	"github.com/flokiorg/depinterm/errs"
	"github.com/flokiorg/depinterm/rpcclient"
	"github.com/flokiorg/depinterm/shared"
	"github.com/flokiorg/depinterm/store"
)

// ForcePollDelay is how long after a successful send the caller should
// schedule a forced poll so the sent message appears promptly
// (FORCE_POLL_DELAY_MS; not pinned to a value by the spec — fixed here).
const ForcePollDelay = 2 * time.Second

var privatePattern = regexp.MustCompile(`^@(\S+)\s+(.+)$`)

// Codec is the subset of envelope.Codec the sender depends on.
type Codec interface {
	Build(params cryptomsg.BuildParams) (cryptomsg.BuildResult, error)
	WrapForPool(payloadHex, poolPubkey, senderAddress string) (string, error)
}

// Reconnector is the subset of Supervisor the sender depends on to
// recover a down connection before giving up.
type Reconnector interface {
	ReconnectOnce(silent bool) bool
}

// Result is the outcome of a successful Send.
type Result struct {
	Hash        string
	Recipients  int
	Timestamp   uint64
	Kind        string
	Peer        *string
	MessageHash string
}

// Sender drives the send pipeline against a single identity.
type Sender struct {
	rpc         *rpcclient.Client
	codec       Codec
	dir         *directory.Directory
	reconnector Reconnector
	store       *store.Store

	token         string
	selfAddress   string
	selfPubkey    string
	privateKey    string
	log           zerolog.Logger
}

// New constructs a Sender for one identity.
func New(rpc *rpcclient.Client, codec Codec, dir *directory.Directory, reconnector Reconnector, st *store.Store, token, selfAddress, selfPubkey, privateKey string) *Sender {
	return &Sender{
		rpc:         rpc,
		codec:       codec,
		dir:         dir,
		reconnector: reconnector,
		store:       st,
		token:       token,
		selfAddress: selfAddress,
		selfPubkey:  selfPubkey,
		privateKey:  privateKey,
		log:         shared.NamedLogger("sender"),
	}
}

// Send parses, builds, wraps, and submits rawInput, returning the send
// result. Any step's failure returns the wrapped error; only the RPC calls
// (the directory's list_depin_addresses fetch, MsgPoolInfo, MsgSubmit) mark
// the client disconnected, via rpcclient.Client.call itself — a parse or
// build failure, or a recipient missing from the directory, is a
// message-pipeline error, not a connectivity one, and leaves Connected()
// untouched.
func (s *Sender) Send(rawInput string) (Result, error) {
	if !s.rpc.Connected() {
		if s.reconnector == nil || !s.reconnector.ReconnectOnce(true) {
			return Result{}, errs.NewRpcError("send", fmt.Errorf("rpc unavailable"))
		}
	}

	kind, peer, body, err := parseInput(rawInput)
	if err != nil {
		return Result{}, err
	}

	recipientPubkeys, err := s.resolveRecipients(kind, peer)
	if err != nil {
		return Result{}, err
	}

	timestamp := uint64(time.Now().Unix())

	buildResult, err := s.codec.Build(cryptomsg.BuildParams{
		Token:            s.token,
		SenderAddress:    s.selfAddress,
		SenderPubkey:     s.selfPubkey,
		SenderPrivateKey: s.privateKey,
		Timestamp:        timestamp,
		Message:          body,
		RecipientPubkeys: recipientPubkeys,
		Kind:             cryptomsg.Kind(kind),
	})
	if err != nil {
		return Result{}, errs.NewMessageGeneric(err)
	}

	payload := buildResult.Hex
	if poolInfo, poolErr := s.rpc.MsgPoolInfo(); poolErr == nil {
		if poolInfo.DepinPoolPubkey != "" && poolInfo.DepinPoolPubkey != "0" {
			if wrapped, wrapErr := s.codec.WrapForPool(buildResult.Hex, poolInfo.DepinPoolPubkey, s.selfAddress); wrapErr == nil {
				payload = wrapped
			}
			// any wrapping failure is downgraded: continue with the raw payload.
		}
	}

	submitResult, err := s.rpc.MsgSubmit(payload)
	if err != nil {
		return Result{}, err
	}

	hash := submitResult.Hash
	if hash == "" {
		hash = submitResult.Txid
	}

	recipients := len(recipientPubkeys)
	if kind == store.KindPrivate {
		recipients = 1
	}

	var peerPtr *string
	if kind == store.KindPrivate {
		p := peer
		peerPtr = &p
	}

	return Result{
		Hash:        hash,
		Recipients:  recipients,
		Timestamp:   timestamp,
		Kind:        kind.String(),
		Peer:        peerPtr,
		MessageHash: buildResult.MessageHash,
	}, nil
}

func (s *Sender) resolveRecipients(kind store.Kind, peer string) ([]string, error) {
	if kind == store.KindPrivate {
		pubkey, err := s.dir.PubkeyFor(peer)
		if err != nil {
			return nil, err
		}
		return []string{pubkey}, nil
	}

	entries, err := s.dir.Refresh(false)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.ErrNoRecipients
	}
	pubkeys := make([]string, 0, len(entries))
	for _, e := range entries {
		pubkeys = append(pubkeys, e.Pubkey)
	}
	return pubkeys, nil
}

func parseInput(rawInput string) (store.Kind, string, string, error) {
	raw := strings.TrimSpace(rawInput)
	if strings.HasPrefix(raw, "@") {
		m := privatePattern.FindStringSubmatch(raw)
		if m == nil {
			return store.KindGroup, "", "", errs.ErrInvalidPrivateFormat
		}
		return store.KindPrivate, m[1], strings.TrimSpace(m[2]), nil
	}
	return store.KindGroup, "", raw, nil
}
