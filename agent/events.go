package agent

import "math/big"

// Event is a notification of a meaningful session state change, delivered on
// the Events channel configured at construction.
type Event interface{}

// ErrorEvent occurs when a transient error has occurred in a background
// task, and contains the error occurred.
type ErrorEvent struct {
	Err error
}

// ConnectedEvent occurs when the handshake with the peer has completed.
type ConnectedEvent struct{}

// DisconnectedEvent occurs when the session has been torn down.
type DisconnectedEvent struct{}

// PaymentSentEvent occurs when an outgoing claim has been signed and
// transmitted to the peer.
type PaymentSentEvent struct {
	// Amount is the payment delta in base accounting units.
	Amount *big.Int
}

// PaymentReceivedEvent occurs when an incoming claim has been verified and
// adopted as the best claim.
type PaymentReceivedEvent struct {
	// Delta is the increase over the previous best claim in base accounting
	// units.
	Delta *big.Int
}

// ClaimSubmittedEvent occurs when the best claim has been submitted
// on-ledger for settlement.
type ClaimSubmittedEvent struct {
	// Amount is the settled cumulative amount in base accounting units.
	Amount *big.Int
}

// ChannelClosingEvent occurs when the watched inbound channel begins closing
// on-ledger; the agent disconnects in response.
type ChannelClosingEvent struct {
	ChannelID string
}

// FundingCompletedEvent occurs when a top-up of the outgoing channel has
// been submitted and the channel details refreshed.
type FundingCompletedEvent struct {
	// Amount is the top-up size in drops.
	Amount int64
}
