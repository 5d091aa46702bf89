package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/interledger-go/xrp-asym-client/claim"
	"github.com/interledger-go/xrp-asym-client/msg"
)

// SendMoney signs a claim for the cumulative total raised by amount base
// units and sends it to the peer. A zero amount is a no-op. The cached
// last claim is updated before the transfer is sent, so a transport
// failure can leave the peer one claim behind; the next send retransmits
// the higher total.
func (a *Agent) SendMoney(ctx context.Context, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("cannot send negative amount %s", amount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConnected {
		return ErrNotConnected
	}

	last, err := a.lastOutgoingClaim(ctx)
	if err != nil {
		return err
	}

	total := new(big.Int).Add(last.Amount, amount)
	drops, err := a.conv.BaseToDrops(total)
	if err != nil {
		return err
	}
	encoded, err := claim.Encode(drops, a.channelID)
	if err != nil {
		return err
	}
	next := claim.Claim{
		Amount:    total,
		Signature: claim.Sign(encoded, a.key.Private),
	}

	// Top up before the channel runs dry: once the claimed total crosses
	// capacity minus half the fund increment, submit more collateral.
	threshold := new(big.Int).Sub(
		a.conv.DropsToBase(a.channelDetails.Capacity),
		a.conv.DropsToBase(a.fundAmount/2),
	)
	if total.Cmp(threshold) > 0 {
		a.maybeFund()
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return err
	}
	a.lastClaim = &next
	_, err = a.transport.Call(ctx, msg.Message{
		Type:   msg.TypeTransfer,
		Amount: amount.String(),
		Protocol: []msg.ProtocolData{
			{Name: msg.ProtocolClaim, ContentType: msg.ContentJSON, Data: payload},
		},
	})
	if err != nil {
		return fmt.Errorf("sending claim for %s: %w", total, err)
	}
	a.logger.Debug().Str("amount", amount.String()).Str("total", total.String()).Msg("sent claim")
	a.sendEvent(PaymentSentEvent{Amount: new(big.Int).Set(amount)})
	return nil
}

// lastOutgoingClaim returns the highest claim this side has signed,
// fetching it from the peer on first use. The peer's copy is verified
// against our own channel before it is trusted as a base.
func (a *Agent) lastOutgoingClaim(ctx context.Context) (claim.Claim, error) {
	if a.lastClaim != nil {
		return *a.lastClaim, nil
	}

	resp, err := a.transport.Call(ctx, msg.Message{
		Type: msg.TypeMessage,
		Protocol: []msg.ProtocolData{
			{Name: msg.ProtocolLastClaim, ContentType: msg.ContentOctetStream},
		},
	})
	if err != nil {
		return claim.Claim{}, fmt.Errorf("requesting last claim: %w", err)
	}
	p, ok := resp.Get(msg.ProtocolLastClaim)
	if !ok {
		return claim.Claim{}, fmt.Errorf("%w: last claim response missing payload", msg.ErrMalformedPayload)
	}
	last, err := claim.Parse(p.Data)
	if err != nil {
		return claim.Claim{}, err
	}

	if last.Zero() {
		last = claim.Claim{Amount: new(big.Int)}
	} else {
		drops, err := a.conv.BaseToDrops(last.Amount)
		if err != nil {
			return claim.Claim{}, err
		}
		if drops != a.channelDetails.Balance {
			// The peer reports a claim that disagrees with what the ledger
			// shows as claimed. Require the signature to check out before
			// building on it.
			encoded, err := claim.Encode(drops, a.channelID)
			if err != nil {
				return claim.Claim{}, err
			}
			if !claim.Verify(encoded, last.Signature, a.key.Public) {
				return claim.Claim{}, fmt.Errorf("%w: amount=%s drops=%d balance=%d",
					ErrInvalidBaseClaim, last.Amount, drops, a.channelDetails.Balance)
			}
		}
	}

	a.lastClaim = &last
	return last, nil
}

// handleIncoming dispatches transport requests from the peer.
func (a *Agent) handleIncoming(ctx context.Context, m msg.Message) ([]msg.ProtocolData, error) {
	switch m.Type {
	case msg.TypeTransfer:
		return nil, a.handleMoney(ctx, m)
	case msg.TypeMessage:
		return a.handleData(ctx, m)
	}
	return nil, fmt.Errorf("unsupported message type %s", m.Type)
}

// handleMoney verifies and adopts an inbound claim. A claim equal to the
// best claim is accepted silently; the money handler only fires for new
// funds.
func (a *Agent) handleMoney(ctx context.Context, m msg.Message) error {
	p, ok := m.Get(msg.ProtocolClaim)
	if !ok {
		return fmt.Errorf("%w: transfer carries no claim", msg.ErrMalformedPayload)
	}
	incoming, err := claim.Parse(p.Data)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateConnected || a.disconnecting {
		return ErrNotConnected
	}
	if a.clientChannelID == "" {
		return fmt.Errorf("got claim but there is no client channel")
	}

	delta := new(big.Int).Sub(incoming.Amount, a.bestClaim.Amount)
	if declared, ok := new(big.Int).SetString(m.Amount, 10); ok && declared.Cmp(delta) != 0 {
		a.logger.Warn().
			Str("declared", declared.String()).
			Str("delta", delta.String()).
			Msg("claim delta disagrees with declared transfer amount")
	}

	switch delta.Sign() {
	case -1:
		return fmt.Errorf("%w: claim=%s best=%s", ErrClaimNotMonotonic, incoming.Amount, a.bestClaim.Amount)
	case 0:
		// Retransmission of the claim we already hold.
		return nil
	}

	drops, err := a.conv.BaseToDrops(incoming.Amount)
	if err != nil {
		return err
	}
	if drops > a.clientChannel.Capacity {
		return fmt.Errorf("%w: drops=%d capacity=%d", ErrClaimExceedsCapacity, drops, a.clientChannel.Capacity)
	}

	encoded, err := claim.Encode(drops, a.clientChannelID)
	if err != nil {
		return err
	}
	if !claim.Verify(encoded, incoming.Signature, a.clientChannelPub) {
		return fmt.Errorf("%w: amount=%s channel=%s", ErrInvalidClaimSignature, incoming.Amount, a.clientChannelID)
	}

	a.bestClaim = incoming
	if a.store != nil {
		record, err := json.Marshal(incoming)
		if err != nil {
			return err
		}
		id := a.clientChannelID
		a.writes.Enqueue(func() {
			if err := a.store.Put(context.Background(), id, record); err != nil {
				a.logger.Warn().Err(err).Msg("persisting best claim")
			}
		})
	}

	a.logger.Debug().Str("amount", incoming.Amount.String()).Str("delta", delta.String()).Msg("got claim")
	a.sendEvent(PaymentReceivedEvent{Delta: new(big.Int).Set(delta)})
	if a.moneyHandler != nil {
		return a.moneyHandler(delta)
	}
	return nil
}

// handleData answers non-transfer requests: channel refresh notifications
// and application data forwarded to the data handler.
func (a *Agent) handleData(ctx context.Context, m msg.Message) ([]msg.ProtocolData, error) {
	if p, ok := m.Get(msg.ProtocolChannel); ok {
		return nil, a.handleChannelRefresh(ctx, p.Data)
	}
	if p, ok := m.Get(msg.ProtocolILP); ok {
		if a.dataHandler == nil {
			return nil, fmt.Errorf("no data handler registered")
		}
		reply, err := a.dataHandler(ctx, p.Data)
		if err != nil {
			return nil, err
		}
		return []msg.ProtocolData{
			{Name: msg.ProtocolILP, ContentType: msg.ContentOctetStream, Data: reply},
		}, nil
	}
	return nil, fmt.Errorf("%w: message carries no recognized sub-protocol", msg.ErrMalformedPayload)
}

// handleChannelRefresh refetches the inbound channel when the peer
// announces new state for it, typically after funding it further.
func (a *Agent) handleChannelRefresh(ctx context.Context, rawID []byte) error {
	id := fmt.Sprintf("%X", rawID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if id != a.clientChannelID {
		return fmt.Errorf("got channel notification for unknown channel %s", id)
	}
	ch, err := a.ledger.Channel(ctx, id)
	if err != nil {
		return fmt.Errorf("refreshing client channel %s: %w", id, err)
	}
	pub, err := claim.ParsePublicKeyText(ch.PublicKey)
	if err != nil {
		return err
	}
	a.clientChannel = ch
	a.clientChannelPub = pub
	a.logger.Debug().Str("channel", id).Int64("capacity", ch.Capacity).Msg("refreshed client channel")
	return nil
}
