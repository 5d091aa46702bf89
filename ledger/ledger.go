// Package ledger defines the narrow interface the channel client consumes
// from an XRP Ledger client, along with the data types crossing it and the
// helpers that are deterministic functions of ledger data (address decoding,
// channel id computation, close watching). Transaction serialization,
// submission transports and ledger subscriptions live behind the Client
// interface and are not implemented here.
package ledger

import (
	"context"
	"time"
)

// MinSettleDelay is the minimum settle delay this client requires of an
// inbound channel, and the delay it configures on its own outgoing channel.
// Anything shorter lets the peer close the channel before a final claim can
// be settled.
const MinSettleDelay = time.Hour

// ResultSuccess is the engine result code of a successfully applied
// transaction.
const ResultSuccess = "tesSUCCESS"

// TxResult is the outcome of submitting a transaction.
type TxResult struct {
	Code    string
	Message string
}

// Successful reports whether the transaction was applied.
func (r TxResult) Successful() bool {
	return r.Code == ResultSuccess
}

// Channel is the on-ledger state of a payment channel.
type Channel struct {
	ID          string
	Source      string
	Destination string
	SettleDelay time.Duration
	// Expiration is set once a close has been requested. A channel with an
	// expiration is already closing and must not be trusted.
	Expiration *time.Time
	// CancelAfter is an immutable hard deadline. A channel with one can be
	// cancelled out from under the destination and must not be trusted.
	CancelAfter *time.Time
	// Capacity is the total funded amount in drops.
	Capacity int64
	// Balance is the highest amount settled on-ledger so far, in drops.
	Balance int64
	// PublicKey is the claim-signing public key bound to the channel, in the
	// ledger's "ED"-prefixed hex form.
	PublicKey string
}

// ChannelCreate describes a PaymentChannelCreate transaction.
type ChannelCreate struct {
	Destination string
	// Amount is the initial capacity in drops.
	Amount      int64
	SettleDelay time.Duration
	PublicKey   string
	// SourceTag correlates the confirmed transaction back to this request.
	SourceTag uint32
}

// ChannelClaim describes a PaymentChannelClaim transaction settling a claim.
type ChannelClaim struct {
	Channel string
	// Balance is the claimed cumulative amount in drops.
	Balance   int64
	Signature string
	PublicKey string
}

// ChannelFund describes a PaymentChannelFund transaction topping up capacity.
type ChannelFund struct {
	Channel string
	// Amount is the additional capacity in drops.
	Amount int64
}

// ConfirmedTransaction is a transaction seen confirmed on a subscribed
// account.
type ConfirmedTransaction struct {
	Account     string
	Destination string
	Sequence    uint32
	SourceTag   uint32
}

// Client is the ledger-client collaborator. Implementations wrap a rippled
// connection; the channel client never constructs ledger transactions beyond
// the parameter records above.
type Client interface {
	// DeriveAddress derives the ledger address controlled by a secret.
	DeriveAddress(secret string) (string, error)

	// PrepareChannelCreate, PrepareChannelClaim and PrepareChannelFund
	// prepare an unsigned transaction from account with the given parameters.
	PrepareChannelCreate(ctx context.Context, account string, p ChannelCreate) (string, error)
	PrepareChannelClaim(ctx context.Context, account string, p ChannelClaim) (string, error)
	PrepareChannelFund(ctx context.Context, account string, p ChannelFund) (string, error)

	// Sign signs a prepared transaction with the secret.
	Sign(txJSON, secret string) (string, error)

	// Submit submits a signed transaction and returns the engine result.
	Submit(ctx context.Context, signedTx string) (TxResult, error)

	// Channel fetches the current on-ledger details of a channel by id.
	Channel(ctx context.Context, channelID string) (Channel, error)

	// Fee returns the current network transaction fee in drops.
	Fee(ctx context.Context) (int64, error)

	// StreamTx streams transactions confirmed against the given accounts.
	// The stream is stopped by calling cancel; the channel is closed when
	// streaming stops.
	StreamTx(accounts ...string) (<-chan ConfirmedTransaction, func())

	// Close tears down the ledger connection and any subscriptions.
	Close() error
}
