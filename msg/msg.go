// Package msg defines the messages exchanged over the bilateral link: a
// framed message type carrying request correlation and a list of named
// sub-protocol payloads, plus the typed payloads of the sub-protocols the
// channel client speaks.
package msg

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/interledger-go/xrp-asym-client/amount"
)

// Type is the frame type of a message.
type Type uint8

const (
	TypeResponse Type = 1
	TypeError    Type = 2
	TypeMessage  Type = 6
	TypeTransfer Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeError:
		return "error"
	case TypeMessage:
		return "message"
	case TypeTransfer:
		return "transfer"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ContentType tags a sub-protocol payload's encoding.
type ContentType uint8

const (
	ContentOctetStream ContentType = 0
	ContentTextPlain   ContentType = 1
	ContentJSON        ContentType = 2
)

// Sub-protocol names.
const (
	ProtocolInfo             = "info"
	ProtocolChannel          = "channel"
	ProtocolChannelSignature = "channel_signature"
	ProtocolFundChannel      = "fund_channel"
	ProtocolLastClaim        = "last_claim"
	ProtocolClaim            = "claim"
	ProtocolError            = "error"
	ProtocolILP              = "ilp"

	ProtocolAuth         = "auth"
	ProtocolAuthUsername = "auth_username"
	ProtocolAuthToken    = "auth_token"
)

// InfoRequestAll is the info sub-protocol request byte asking the peer for
// its full account metadata.
const InfoRequestAll = 2

// ProtocolData is one named sub-protocol payload within a message.
type ProtocolData struct {
	Name        string
	ContentType ContentType
	Data        []byte
}

// Message is one frame on the bilateral link. Transfer frames additionally
// carry the amount the sender declares it is paying, as a decimal string in
// base accounting units.
type Message struct {
	Type      Type
	RequestID uint32
	Amount    string
	Protocol  []ProtocolData
}

// Get returns the first payload with the given name.
func (m Message) Get(name string) (ProtocolData, bool) {
	for _, p := range m.Protocol {
		if p.Name == name {
			return p, true
		}
	}
	return ProtocolData{}, false
}

// ErrMalformedPayload indicates a sub-protocol payload that could not be
// decoded. Malformed input from the peer is a protocol error, never a panic.
var ErrMalformedPayload = errors.New("malformed payload")

// Info is the peer's account metadata returned by the info sub-protocol.
type Info struct {
	// CurrencyScale is nil when the peer declares no scale. An explicit
	// zero is a valid scale and is distinct from absent.
	CurrencyScale *int   `json:"currencyScale,omitempty"`
	Account       string `json:"account"`
	Prefix        string `json:"prefix"`
	Address       string `json:"address"`
	// Channel is the outgoing channel the peer already knows about, if any.
	Channel string `json:"channel,omitempty"`
	// ClientChannel is the inbound channel the peer has opened to this side,
	// if any.
	ClientChannel string `json:"clientChannel,omitempty"`
}

// Scale returns the declared currency scale, defaulting peers that declare
// none to the ledger-native scale.
func (i Info) Scale() int {
	if i.CurrencyScale == nil {
		return amount.DefaultScale
	}
	return *i.CurrencyScale
}

// ParseInfo decodes an info payload.
func ParseInfo(data []byte) (Info, error) {
	var i Info
	if err := json.Unmarshal(data, &i); err != nil {
		return Info{}, fmt.Errorf("%w: info: %v", ErrMalformedPayload, err)
	}
	if i.Account == "" || i.Address == "" {
		return Info{}, fmt.Errorf("%w: info missing account or address", ErrMalformedPayload)
	}
	return i, nil
}

// MarshalInfo encodes an info payload.
func MarshalInfo(i Info) ([]byte, error) {
	return json.Marshal(i)
}

type Encoder = gob.Encoder

func NewEncoder(w io.Writer) *Encoder {
	return gob.NewEncoder(w)
}

type Decoder = gob.Decoder

func NewDecoder(r io.Reader) *Decoder {
	return gob.NewDecoder(r)
}
