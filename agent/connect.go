package agent

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/interledger-go/xrp-asym-client/btp"
	"github.com/interledger-go/xrp-asym-client/claim"
	"github.com/interledger-go/xrp-asym-client/keys"
	"github.com/interledger-go/xrp-asym-client/ledger"
	"github.com/interledger-go/xrp-asym-client/msg"
)

// Connect performs the handshake with the peer: info exchange and scale
// validation, session key derivation, outgoing channel creation when none
// exists, inbound channel validation, recovery of a persisted best claim,
// and the start of close watching and auto-settlement. Any fatal validation
// failure tears the session down before returning the error.
func (a *Agent) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateStart {
		return fmt.Errorf("connect: session is already %s", a.state)
	}

	if err := a.connect(ctx); err != nil {
		// Never leave a live subscription or connection behind a rejected
		// handshake.
		a.state = StateDisconnected
		transport := a.transport
		dialed := a.dialedTransport
		a.mu.Unlock()
		a.stopServices()
		if dialed && transport != nil {
			_ = transport.Close()
		}
		if cerr := a.ledger.Close(); cerr != nil {
			a.logger.Debug().Err(cerr).Msg("closing ledger client")
		}
		a.mu.Lock()
		return err
	}

	a.state = StateConnected
	a.logger.Debug().Str("peer", a.peerAddress).Msg("connected")
	a.sendEvent(ConnectedEvent{})
	return nil
}

func (a *Agent) connect(ctx context.Context) error {
	if a.transport == nil {
		endpoint, err := btp.ParseURL(a.server, a.secret)
		if err != nil {
			return err
		}
		conn, err := btp.Dial(ctx, endpoint, a.logger)
		if err != nil {
			return fmt.Errorf("connecting transport: %w", err)
		}
		a.transport = conn
		a.dialedTransport = true
	}
	a.transport.SetHandler(a.handleIncoming)

	info, err := a.exchangeInfo(ctx)
	if err != nil {
		return err
	}
	if info.Scale() != a.scale {
		return fmt.Errorf("%w: this=%d peer=%d", ErrScaleMismatch, a.scale, info.Scale())
	}
	a.account = info.Account
	a.prefix = info.Prefix
	a.peerAddress = info.Address
	a.channelID = info.Channel
	a.clientChannelID = info.ClientChannel
	a.state = StateInfoExchanged

	a.key = keys.DeriveSessionKey(a.secret, a.peerAddress)
	a.state = StateKeysDerived

	var channelProtocol []msg.ProtocolData
	if a.channelID == "" {
		id, err := a.createOutgoingChannel(ctx)
		if err != nil {
			return err
		}
		a.channelID = id
		proof, err := a.signChannelProof()
		if err != nil {
			return err
		}
		channelProtocol = append(channelProtocol, proof...)
	}
	a.state = StateOutgoingChannelReady

	// Cached to bound outgoing claims against the channel's capacity.
	a.channelDetails, err = a.ledger.Channel(ctx, a.channelID)
	if err != nil {
		return fmt.Errorf("fetching outgoing channel %s: %w", a.channelID, err)
	}

	if a.clientChannelID == "" {
		a.logger.Debug().Msg("no client channel has been established; requesting")
		channelProtocol = append(channelProtocol, msg.ProtocolData{
			Name:        msg.ProtocolFundChannel,
			ContentType: msg.ContentTextPlain,
			Data:        []byte(a.address),
		})
	}

	if len(channelProtocol) > 0 {
		resp, err := a.transport.Call(ctx, msg.Message{Type: msg.TypeMessage, Protocol: channelProtocol})
		if err != nil {
			return fmt.Errorf("announcing channel to peer: %w", err)
		}
		if a.clientChannelID == "" {
			p, ok := resp.Get(msg.ProtocolFundChannel)
			if ok && len(p.Data) > 0 {
				a.clientChannelID = strings.ToUpper(hex.EncodeToString(p.Data))
			}
		}
	}

	if a.clientChannelID != "" {
		if err := a.evaluateClientChannel(ctx); err != nil {
			return err
		}
		a.state = StateClientChannelEvaluated

		a.watcher.Watch(a.clientChannelID)
		go a.watchCloses()
		go a.settleLoop()
		a.state = StateWatching
		a.logger.Debug().Str("amount", a.bestClaim.Amount.String()).Msg("loaded best claim")
	}

	return nil
}

func (a *Agent) exchangeInfo(ctx context.Context) (msg.Info, error) {
	resp, err := a.transport.Call(ctx, msg.Message{
		Type: msg.TypeMessage,
		Protocol: []msg.ProtocolData{
			{Name: msg.ProtocolInfo, ContentType: msg.ContentOctetStream, Data: []byte{msg.InfoRequestAll}},
		},
	})
	if err != nil {
		return msg.Info{}, fmt.Errorf("requesting info: %w", err)
	}
	p, ok := resp.Get(msg.ProtocolInfo)
	if !ok {
		return msg.Info{}, fmt.Errorf("%w: info response missing info payload", msg.ErrMalformedPayload)
	}
	info, err := msg.ParseInfo(p.Data)
	if err != nil {
		return msg.Info{}, err
	}
	a.logger.Debug().
		Str("account", info.Account).
		Str("address", info.Address).
		Int("scale", info.Scale()).
		Msg("got info")
	return info, nil
}

// createOutgoingChannel submits a channel-create transaction tagged with a
// random correlation tag and waits for it to be confirmed on the subscribed
// account, then derives the channel id from the confirmed transaction.
func (a *Agent) createOutgoingChannel(ctx context.Context) (string, error) {
	a.logger.Info().
		Str("from", a.address).
		Str("to", a.peerAddress).
		Int64("drops", a.fundAmount).
		Msg("creating outgoing channel")

	tag := randomTag()
	txJSON, err := a.ledger.PrepareChannelCreate(ctx, a.address, ledger.ChannelCreate{
		Destination: a.peerAddress,
		Amount:      a.fundAmount,
		SettleDelay: a.minSettleDelay,
		PublicKey:   a.key.PublicKeyText(),
		SourceTag:   tag,
	})
	if err != nil {
		return "", fmt.Errorf("preparing channel create: %w", err)
	}
	signed, err := a.ledger.Sign(txJSON, a.secret)
	if err != nil {
		return "", fmt.Errorf("signing channel create: %w", err)
	}
	result, err := a.ledger.Submit(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submitting channel create: %w", err)
	}
	if !result.Successful() {
		return "", fmt.Errorf("failed to create payment channel from %s to %s: %s %s",
			a.address, a.peerAddress, result.Code, result.Message)
	}

	a.logger.Debug().Msg("waiting for channel create to be confirmed")
	txs, cancel := a.ledger.StreamTx(a.address)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case tx, ok := <-txs:
			if !ok {
				return "", fmt.Errorf("transaction stream ended before channel create confirmed")
			}
			if tx.SourceTag != tag || tx.Account != a.address {
				continue
			}
			id, err := ledger.ComputeChannelID(tx.Account, tx.Destination, tx.Sequence)
			if err != nil {
				return "", err
			}
			a.logger.Debug().Str("channel", id).Msg("channel create confirmed")
			return id, nil
		}
	}
}

// signChannelProof builds the channel and channel_signature payloads that
// prove to the peer this side controls the announced channel.
func (a *Agent) signChannelProof() ([]msg.ProtocolData, error) {
	proof, err := claim.EncodeChannelProof(a.channelID, a.account)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(claim.Sign(proof, a.key.Private))
	if err != nil {
		return nil, err
	}
	id, err := hex.DecodeString(a.channelID)
	if err != nil {
		return nil, fmt.Errorf("decoding channel id %q: %w", a.channelID, err)
	}
	return []msg.ProtocolData{
		{Name: msg.ProtocolChannel, ContentType: msg.ContentOctetStream, Data: id},
		{Name: msg.ProtocolChannelSignature, ContentType: msg.ContentOctetStream, Data: sig},
	}, nil
}

// evaluateClientChannel validates the inbound channel the peer offered and
// seeds the claim ledger, preferring a persisted claim over the on-ledger
// balance when the persisted amount is higher.
func (a *Agent) evaluateClientChannel(ctx context.Context) error {
	ch, err := a.ledger.Channel(ctx, a.clientChannelID)
	if err != nil {
		return fmt.Errorf("fetching client channel %s: %w", a.clientChannelID, err)
	}
	if ch.Destination != a.address {
		return fmt.Errorf("%w: destination=%s ours=%s; peer is likely malicious", ErrChannelNotToUs, ch.Destination, a.address)
	}
	if ch.SettleDelay < a.minSettleDelay {
		return fmt.Errorf("%w: delay=%s minimum=%s; peer is likely malicious", ErrSettleDelayTooShort, ch.SettleDelay, a.minSettleDelay)
	}
	if ch.Expiration != nil {
		return fmt.Errorf("%w; peer is likely malicious", ErrChannelExpiring)
	}
	if ch.CancelAfter != nil {
		return fmt.Errorf("%w; peer is likely malicious", ErrChannelHasCancelAfter)
	}
	pub, err := claim.ParsePublicKeyText(ch.PublicKey)
	if err != nil {
		return fmt.Errorf("client channel %s: %w", a.clientChannelID, err)
	}
	a.clientChannel = ch
	a.clientChannelPub = pub

	a.bestClaim = claim.Claim{Amount: a.conv.DropsToBase(ch.Balance)}
	a.lastClaimedAmount = a.conv.DropsToBase(ch.Balance)

	// A previously verified claim surviving a restart must not be lost:
	// adopt the persisted claim when its amount exceeds the seeded balance.
	if a.store != nil {
		record, err := a.store.Get(ctx, a.clientChannelID)
		if err != nil {
			a.logger.Warn().Err(err).Msg("reading persisted claim")
		} else if record != nil {
			recovered, err := claim.Parse(record)
			if err != nil {
				a.logger.Warn().Err(err).Msg("parsing persisted claim")
			} else if recovered.Amount.Cmp(a.bestClaim.Amount) > 0 {
				a.bestClaim = recovered
			}
		}
	}
	return nil
}

// watchCloses disconnects the session when the watched inbound channel
// begins closing.
func (a *Agent) watchCloses() {
	for {
		select {
		case <-a.stop:
			return
		case id, ok := <-a.watcher.Closes():
			if !ok {
				return
			}
			a.mu.Lock()
			match := id == a.clientChannelID
			a.mu.Unlock()
			if !match {
				continue
			}
			a.logger.Debug().Str("channel", id).Msg("channel closing; triggering auto-disconnect")
			a.sendEvent(ChannelClosingEvent{ChannelID: id})
			if err := a.Disconnect(context.Background()); err != nil {
				a.logger.Warn().Err(err).Msg("disconnecting after channel close")
			}
		}
	}
}

func randomTag() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}
