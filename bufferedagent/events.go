package bufferedagent

import (
	"math/big"
)

// BufferedPaymentsSentEvent occurs when a buffer of payments has been
// collapsed into a single claim and sent to the peer.
type BufferedPaymentsSentEvent struct {
	BufferID string
	// Payments is the number of individual payments the claim covered.
	Payments int
	// Amount is the combined amount in base accounting units.
	Amount *big.Int
}
