package agent

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/interledger-go/xrp-asym-client/ledger"
)

// settleLoop periodically submits the best inbound claim to the ledger.
func (a *Agent) settleLoop() {
	ticker := time.NewTicker(a.settleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.autoClaim()
		}
	}
}

// autoClaim submits the best claim when it is worth the transaction fee.
// Fee lookup failures are transient and only logged.
func (a *Agent) autoClaim() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bestClaim.Zero() {
		return
	}
	if a.bestClaim.Amount.Cmp(a.conv.DropsToBase(a.clientChannel.Balance)) == 0 {
		return
	}

	ctx := context.Background()
	ok, err := a.claimProfitable(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("checking claim profitability")
		return
	}
	if !ok {
		return
	}
	if err := a.claimFunds(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("submitting claim")
		a.sendEvent(ErrorEvent{Err: err})
	}
}

// claimProfitable reports whether the unclaimed income clears the
// configured fee ratio.
func (a *Agent) claimProfitable(ctx context.Context) (bool, error) {
	fee, err := a.ledger.Fee(ctx)
	if err != nil {
		return false, fmt.Errorf("fetching fee: %w", err)
	}
	income := new(big.Int).Sub(a.bestClaim.Amount, a.lastClaimedAmount)
	if income.Sign() <= 0 {
		return false, nil
	}
	ratio := new(big.Rat).SetFrac(a.conv.DropsToBase(fee), income)
	return ratio.Cmp(a.maxFeeRatio) <= 0, nil
}

// claimFunds submits the best claim on the inbound channel. Callers hold
// a.mu. The last claimed amount is advanced before submission; a failed
// submission is retried only by a later, higher claim.
func (a *Agent) claimFunds(ctx context.Context) error {
	if a.bestClaim.Zero() {
		return nil
	}
	if a.bestClaim.Amount.Cmp(a.conv.DropsToBase(a.clientChannel.Balance)) == 0 {
		return nil
	}
	if a.lastClaimedAmount.Cmp(a.bestClaim.Amount) >= 0 {
		return nil
	}

	drops, err := a.conv.BaseToDrops(a.bestClaim.Amount)
	if err != nil {
		return err
	}
	claiming := new(big.Int).Set(a.bestClaim.Amount)
	a.lastClaimedAmount = claiming

	a.logger.Info().
		Str("channel", a.clientChannelID).
		Int64("drops", drops).
		Msg("claiming funds")
	txJSON, err := a.ledger.PrepareChannelClaim(ctx, a.address, ledger.ChannelClaim{
		Channel:   a.clientChannelID,
		Balance:   drops,
		Signature: strings.ToUpper(a.bestClaim.Signature),
		PublicKey: a.clientChannel.PublicKey,
	})
	if err != nil {
		return fmt.Errorf("preparing claim: %w", err)
	}
	signed, err := a.ledger.Sign(txJSON, a.secret)
	if err != nil {
		return fmt.Errorf("signing claim: %w", err)
	}
	result, err := a.ledger.Submit(ctx, signed)
	if err != nil {
		return fmt.Errorf("submitting claim: %w", err)
	}
	if !result.Successful() {
		return fmt.Errorf("claim submission failed: %s %s", result.Code, result.Message)
	}

	a.sendEvent(ClaimSubmittedEvent{Amount: claiming})
	return nil
}
