// Package agent implements the client side of the asymmetric payment-channel
// protocol: the connect-time handshake with the peer, issuance and
// verification of off-ledger claims, crash-safe persistence of the best
// claim received, fee-aware auto-settlement, and top-ups of the outgoing
// channel.
//
// The agent drives narrow collaborator interfaces for the bilateral
// transport, the ledger client, close detection and persistence; none of
// those are implemented here.
package agent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/interledger-go/xrp-asym-client/amount"
	"github.com/interledger-go/xrp-asym-client/btp"
	"github.com/interledger-go/xrp-asym-client/claim"
	"github.com/interledger-go/xrp-asym-client/keys"
	"github.com/interledger-go/xrp-asym-client/ledger"
	"github.com/interledger-go/xrp-asym-client/msg"
	"github.com/interledger-go/xrp-asym-client/store"
)

// DefaultFundAmount is the capacity of a newly created outgoing channel and
// the size of each top-up, in drops (10 XRP).
const DefaultFundAmount = 10 * amount.DropsPerXRP

// DefaultSettleInterval is how often the auto-settlement policy runs.
const DefaultSettleInterval = 5 * time.Minute

// Transport is the bilateral link to the peer. Incoming requests are
// dispatched to the handler; Call performs a correlated request/response.
type Transport interface {
	Call(ctx context.Context, m msg.Message) (msg.Message, error)
	SetHandler(h btp.Handler)
	Close() error
}

// CloseWatcher reports channels that begin closing on-ledger.
type CloseWatcher interface {
	Watch(channelID string)
	Closes() <-chan string
}

// Config contains the information that can be supplied to configure the
// Agent at construction.
type Config struct {
	// Server is the transport endpoint URI. Required unless Transport is
	// given. A URI without a password gets its auth token derived from
	// Secret.
	Server string

	// Secret is the shared ledger secret. Required.
	Secret string

	// Address is the ledger address of this side. Derived from Secret when
	// empty.
	Address string

	// CurrencyScale is the decimal scale of the accounting unit relative to
	// one XRP. AssetScale is an alias; setting both is a configuration
	// error. Nil means the ledger-native scale of 6.
	CurrencyScale *int
	AssetScale    *int

	// SettleInterval is how often the auto-settlement policy runs.
	SettleInterval time.Duration

	// FundAmount is the outgoing channel's initial capacity and top-up size
	// in drops.
	FundAmount int64

	// MaxFeeRatio is the highest acceptable ratio of network fee to
	// unsettled income when settling a claim. Defaults to 1/100.
	MaxFeeRatio *big.Rat

	// MinSettleDelay is the minimum settle delay required of the inbound
	// channel. Defaults to ledger.MinSettleDelay.
	MinSettleDelay time.Duration

	Ledger ledger.Client

	// Transport, when set, replaces dialing Server.
	Transport Transport

	// Watcher, when set, replaces the default polling watcher.
	Watcher CloseWatcher

	// Store, when set, persists the best received claim per inbound channel.
	Store store.Store

	Logger zerolog.Logger

	// Events receives session events. Sends block; consume promptly.
	Events chan<- Event

	// MoneyHandler is invoked with the delta of each accepted incoming
	// claim.
	MoneyHandler func(delta *big.Int) error

	// DataHandler answers non-channel message payloads from the peer.
	DataHandler func(ctx context.Context, data []byte) ([]byte, error)
}

// Protocol and trust violations that are fatal to the operation they occur
// in.
var (
	ErrScaleMismatch         = errors.New("currency scale mismatch")
	ErrChannelNotToUs        = errors.New("payment channel destination is not ours")
	ErrSettleDelayTooShort   = errors.New("payment channel settle delay is too short")
	ErrChannelExpiring       = errors.New("payment channel is already closing")
	ErrChannelHasCancelAfter = errors.New("payment channel has a hard cancel")
	ErrClaimNotMonotonic     = errors.New("claim amount is lower than best claim")
	ErrClaimExceedsCapacity  = errors.New("claim amount exceeds channel capacity")
	ErrInvalidClaimSignature = errors.New("invalid claim signature")
	ErrInvalidBaseClaim      = errors.New("last outgoing claim signature is invalid")
	ErrNotConnected          = errors.New("not connected")
)

// State is the handshake/session state of the agent.
type State int

const (
	StateStart State = iota
	StateInfoExchanged
	StateKeysDerived
	StateOutgoingChannelReady
	StateClientChannelEvaluated
	StateWatching
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateInfoExchanged:
		return "info-exchanged"
	case StateKeysDerived:
		return "keys-derived"
	case StateOutgoingChannelReady:
		return "outgoing-channel-ready"
	case StateClientChannelEvaluated:
		return "client-channel-evaluated"
	case StateWatching:
		return "watching"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Agent is a single session with one peer. An agent is not reusable after
// Disconnect.
//
// Outbound payments must be serialized per outgoing channel by the caller;
// SendMoney is not re-entrant for the same channel.
type Agent struct {
	scale          int
	conv           amount.Converter
	secret         string
	address        string
	server         string
	fundAmount     int64
	settleInterval time.Duration
	maxFeeRatio    *big.Rat
	minSettleDelay time.Duration

	ledger       ledger.Client
	watcher      CloseWatcher
	ownedWatcher *ledger.Watcher
	store        store.Store
	logger       zerolog.Logger
	events       chan<- Event
	moneyHandler func(delta *big.Int) error
	dataHandler  func(ctx context.Context, data []byte) ([]byte, error)

	writes *writeQueue

	stop     chan struct{}
	stopOnce sync.Once

	// mu is a lock for the mutable fields of this type. It should be locked
	// when reading or writing any of the mutable fields listed below.
	// Pushing to the events chan does not require the lock.
	mu              sync.Mutex
	state           State
	disconnecting   bool
	transport       Transport
	dialedTransport bool

	account     string
	prefix      string
	peerAddress string
	key         keys.SessionKey

	channelID      string
	channelDetails ledger.Channel

	clientChannelID  string
	clientChannel    ledger.Channel
	clientChannelPub ed25519.PublicKey

	bestClaim         claim.Claim
	lastClaim         *claim.Claim
	lastClaimedAmount *big.Int

	fundingState fundingState
	fundingDone  chan struct{}
}

// NewAgent constructs an agent from the config, failing fast on
// configuration errors.
func NewAgent(c Config) (*Agent, error) {
	if c.Secret == "" {
		return nil, errors.New("config: secret must be specified")
	}
	if c.Server == "" && c.Transport == nil {
		return nil, errors.New("config: server must be specified")
	}
	if c.Ledger == nil {
		return nil, errors.New("config: ledger client must be specified")
	}
	if c.AssetScale != nil && c.CurrencyScale != nil {
		return nil, errors.New("config: asset scale is an alias for currency scale; only one must be specified")
	}
	scale := amount.DefaultScale
	if c.CurrencyScale != nil {
		scale = *c.CurrencyScale
	} else if c.AssetScale != nil {
		scale = *c.AssetScale
	}
	if scale < 0 {
		return nil, fmt.Errorf("config: currency scale must not be negative, got %d", scale)
	}

	address := c.Address
	if address == "" {
		var err error
		address, err = c.Ledger.DeriveAddress(c.Secret)
		if err != nil {
			return nil, fmt.Errorf("config: deriving address: %w", err)
		}
	}

	a := &Agent{
		scale:          scale,
		conv:           amount.NewConverter(scale),
		secret:         c.Secret,
		address:        address,
		server:         c.Server,
		fundAmount:     c.FundAmount,
		settleInterval: c.SettleInterval,
		maxFeeRatio:    c.MaxFeeRatio,
		minSettleDelay: c.MinSettleDelay,

		ledger:       c.Ledger,
		watcher:      c.Watcher,
		store:        c.Store,
		logger:       c.Logger,
		events:       c.Events,
		moneyHandler: c.MoneyHandler,
		dataHandler:  c.DataHandler,

		transport: c.Transport,
		writes:    newWriteQueue(),
		stop:      make(chan struct{}),
	}
	if a.fundAmount <= 0 {
		a.fundAmount = DefaultFundAmount
	}
	if a.settleInterval <= 0 {
		a.settleInterval = DefaultSettleInterval
	}
	if a.maxFeeRatio == nil {
		a.maxFeeRatio = big.NewRat(1, 100)
	}
	if a.minSettleDelay <= 0 {
		a.minSettleDelay = ledger.MinSettleDelay
	}
	if a.watcher == nil {
		a.ownedWatcher = ledger.NewWatcher(c.Ledger, 0)
		a.watcher = a.ownedWatcher
	}
	return a, nil
}

// State returns the current session state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// BestClaim returns the highest verified claim received this session.
func (a *Agent) BestClaim() claim.Claim {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bestClaim
}

// Disconnect gracefully ends the session: it waits for any in-flight
// top-up, drains pending claim persistence, makes one final settlement
// attempt, and releases the background timers. A settlement failure is
// returned but the session is torn down regardless.
func (a *Agent) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateDisconnected || a.disconnecting {
		a.mu.Unlock()
		return nil
	}
	a.disconnecting = true
	fundingDone := a.fundingDone
	a.mu.Unlock()

	if fundingDone != nil {
		select {
		case <-fundingDone:
		case <-ctx.Done():
			// Teardown has not happened; a later Disconnect must be able
			// to run it.
			a.mu.Lock()
			a.disconnecting = false
			a.mu.Unlock()
			return ctx.Err()
		}
	}

	a.writes.Flush()

	a.mu.Lock()
	var claimErr error
	if a.clientChannelID != "" {
		claimErr = a.claimFunds(ctx)
	}
	a.state = StateDisconnected
	transport := a.transport
	dialed := a.dialedTransport
	a.mu.Unlock()

	a.stopServices()
	a.writes.Close()
	if dialed && transport != nil {
		if err := transport.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("closing transport")
		}
	}
	if err := a.ledger.Close(); err != nil {
		a.logger.Debug().Err(err).Msg("closing ledger client")
	}
	a.sendEvent(DisconnectedEvent{})
	return claimErr
}

// stopServices releases the settle loop, close-watch loop and any owned
// watcher. Safe to call more than once.
func (a *Agent) stopServices() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.ownedWatcher != nil {
		a.ownedWatcher.Stop()
	}
}

func (a *Agent) sendEvent(e Event) {
	if a.events != nil {
		a.events <- e
	}
}
