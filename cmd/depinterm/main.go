package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"github.com/flokiorg/depinterm/config"
	"github.com/flokiorg/depinterm/cryptomsg/secp256k1msg"
	"github.com/flokiorg/depinterm/directory"
	"github.com/flokiorg/depinterm/envelope"
	"github.com/flokiorg/depinterm/events"
	"github.com/flokiorg/depinterm/poller"
	"github.com/flokiorg/depinterm/rpcclient"
	"github.com/flokiorg/depinterm/secretstore"
	"github.com/flokiorg/depinterm/sender"
	"github.com/flokiorg/depinterm/shared"
	"github.com/flokiorg/depinterm/store"
	"github.com/flokiorg/depinterm/supervisor"
	"github.com/flokiorg/depinterm/uiadapter"
)

// Version is stamped at build time; ".dev" otherwise.
var Version = ".dev"

const defaultLogFilename = "depinterm.log"

func main() {
	os.Exit(run())
}

func run() int {
	flagsCfg, parser, err := config.Parse(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if flagsCfg.Version {
		fmt.Println("depinterm", Version)
		return 0
	}

	configPath := flagsCfg.ConfigPath
	if configPath == "" {
		configPath = "config.json"
	}

	record, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", configPath, err)
		parser.WriteHelp(os.Stderr)
		return 1
	}

	logLevel := shared.ParseLogLevel(flagsCfg.LogLevel)
	logPath := filepath.Join(filepath.Dir(configPath), defaultLogFilename)
	log.Logger = shared.CreateFileLogger(logPath, logLevel)
	runLog := shared.NamedLogger("main")

	wif, err := unlockSigningKey(record, flagsCfg.Password)
	if err != nil {
		runLog.Error().Err(err).Msg("unable to unlock signing key")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	selfAddress, selfPubkey, err := secp256k1msg.Identity(wif)
	if err != nil {
		runLog.Error().Err(err).Msg("invalid WIF signing key")
		fmt.Fprintln(os.Stderr, "invalid WIF signing key:", err)
		return 1
	}

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			runLog.Error().Interface("panic", r).Bytes("stack", stack).Msg("unhandled panic")
			fmt.Fprintf(os.Stderr, "\npanic: %v\n%s", r, stack)
			os.Exit(1)
		}
	}()

	provider := secp256k1msg.New()
	codec := envelope.New(provider)

	rpc := rpcclient.New(config.RPCEndpoint(record.RPCURL), record.RPCUsername, record.RPCPassword)
	dir := directory.New(rpc, provider, record.Token)
	bus := events.NewBus()

	messageStore := store.New()
	var sv *supervisor.Supervisor

	// Poller and Sender are constructed once, holding this single Store for
	// their whole lifetime; a full resync clears it in place (Store.Clear)
	// rather than swapping the pointer, so neither needs a setter.
	newStore := func() *store.Store { messageStore.Clear(); return messageStore }
	attachStore := func(*store.Store) {}

	pollerInterval := poller.ClampInterval(time.Duration(record.PollInterval) * time.Millisecond)
	p := poller.New(rpc, codec, messageStore, dir, bus, record.Token, selfAddress, wif, pollerInterval, func(err error) { sv.NotifyRPCDown(err) })

	snd := sender.New(rpc, codec, dir, reconnectorFunc(func(silent bool) bool { return sv.ReconnectOnce(silent) }), messageStore, record.Token, selfAddress, selfPubkey, wif)

	preconds := supervisor.NewRpcPreconditions(rpc)
	sv = supervisor.New(rpc, preconds, p, dir, bus, selfAddress, record.Token, newStore, attachStore)

	ctx, cancel := context.WithCancel(context.Background())
	go sv.Run(ctx)

	ui := uiadapter.NewTUI(selfAddress, func(raw string) error {
		result, sendErr := snd.Send(raw)
		if sendErr != nil {
			return sendErr
		}
		if result.Peer != nil {
			messageStore.RegisterOutgoingPrivate(result.Hash, *result.Peer)
		}
		time.AfterFunc(sender.ForcePollDelay, p.Poll)
		return nil
	})

	dispatcher := uiadapter.NewDispatcher(bus, ui)
	go dispatcher.Run(ctx)

	shutdown := uiadapter.NewShutdownController(ui, cancel)
	shutdown.Listen()
	defer shutdown.Release()

	if runErr := ui.Run(); runErr != nil {
		runLog.Error().Err(runErr).Msg("ui terminated with error")
	}

	shutdown.Shutdown()
	sv.Stop()
	return 0
}

// unlockSigningKey returns the plaintext WIF from record.PrivateKey. If
// password is non-empty it is used directly (non-interactive test
// contexts); otherwise the interactive, bounded-attempt terminal prompt is
// used.
func unlockSigningKey(record *config.Record, password string) (string, error) {
	if password != "" {
		return secretstore.Decrypt(record.PrivateKey, password)
	}
	return secretstore.UnlockInteractive(os.Stdin, record.PrivateKey, secretstore.MaxUnlockAttempts)
}

type reconnectorFunc func(silent bool) bool

func (f reconnectorFunc) ReconnectOnce(silent bool) bool { return f(silent) }
