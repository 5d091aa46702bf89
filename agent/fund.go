package agent

import (
	"context"
	"fmt"

	"github.com/interledger-go/xrp-asym-client/ledger"
	"github.com/interledger-go/xrp-asym-client/msg"
)

// fundingState marks whether a channel funding transaction is in flight.
// At most one funding runs at a time.
type fundingState int

const (
	fundingIdle fundingState = iota
	fundingPending
)

// maybeFund starts a background funding of the outgoing channel unless one
// is already in flight. Callers hold a.mu.
func (a *Agent) maybeFund() {
	if a.fundingState == fundingPending {
		return
	}
	a.fundingState = fundingPending
	done := make(chan struct{})
	a.fundingDone = done
	go a.fund(done)
}

// fund tops up the outgoing channel and tells the peer to refresh its view
// of it. The cached channel details are refetched before funding is marked
// idle so a subsequent threshold check sees the new capacity.
func (a *Agent) fund(done chan struct{}) {
	ctx := context.Background()

	a.mu.Lock()
	channelID := a.channelID
	fundAmount := a.fundAmount
	a.mu.Unlock()

	a.logger.Info().
		Str("channel", channelID).
		Int64("drops", fundAmount).
		Msg("funding channel")
	err := a.submitFund(ctx, channelID, fundAmount)
	if err != nil {
		a.logger.Warn().Err(err).Str("channel", channelID).Msg("funding channel failed")
	}

	a.mu.Lock()
	if ch, ferr := a.ledger.Channel(ctx, channelID); ferr != nil {
		a.logger.Warn().Err(ferr).Msg("refreshing channel after funding")
	} else {
		a.channelDetails = ch
	}
	a.fundingState = fundingIdle
	a.fundingDone = nil
	var proof []msg.ProtocolData
	if err == nil {
		proof, err = a.signChannelProof()
		if err != nil {
			a.logger.Warn().Err(err).Msg("signing channel proof after funding")
		}
	}
	a.mu.Unlock()
	close(done)

	if proof != nil {
		if _, err := a.transport.Call(ctx, msg.Message{Type: msg.TypeMessage, Protocol: proof}); err != nil {
			a.logger.Warn().Err(err).Msg("notifying peer of funded channel")
			return
		}
		a.sendEvent(FundingCompletedEvent{Amount: fundAmount})
	}
}

func (a *Agent) submitFund(ctx context.Context, channelID string, drops int64) error {
	txJSON, err := a.ledger.PrepareChannelFund(ctx, a.address, ledger.ChannelFund{
		Channel: channelID,
		Amount:  drops,
	})
	if err != nil {
		return fmt.Errorf("preparing channel fund: %w", err)
	}
	signed, err := a.ledger.Sign(txJSON, a.secret)
	if err != nil {
		return fmt.Errorf("signing channel fund: %w", err)
	}
	result, err := a.ledger.Submit(ctx, signed)
	if err != nil {
		return fmt.Errorf("submitting channel fund: %w", err)
	}
	if !result.Successful() {
		return fmt.Errorf("channel fund failed: %s %s", result.Code, result.Message)
	}
	return nil
}
