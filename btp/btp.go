// Package btp implements the bilateral transport the channel client speaks
// to its peer: gob-framed messages over a TCP connection, with request-id
// correlated request/response calls and handler dispatch for incoming
// requests. Authentication uses the auth sub-protocol with credentials taken
// from, or derived for, the endpoint URI.
package btp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/interledger-go/xrp-asym-client/keys"
	"github.com/interledger-go/xrp-asym-client/msg"
)

// ErrClosed indicates the connection has been closed.
var ErrClosed = errors.New("btp: connection closed")

// Endpoint is a parsed transport endpoint.
type Endpoint struct {
	Addr     string
	Username string
	Token    string
}

// ParseURL parses a transport endpoint URI. When the URI carries no password
// the auth token is derived from the shared secret, keyed on the endpoint
// host and username.
func ParseURL(raw, secret string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parsing endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("parsing endpoint %q: no host", raw)
	}
	e := Endpoint{Addr: u.Host}
	if u.User != nil {
		e.Username = u.User.Username()
		if token, ok := u.User.Password(); ok {
			e.Token = token
			return e, nil
		}
	}
	e.Token = keys.DeriveTransportToken(secret, u.Host+e.Username)
	return e, nil
}

// Handler responds to an incoming request from the peer. The returned
// protocol entries form the response; an error is reported to the peer as an
// error frame.
type Handler func(ctx context.Context, m msg.Message) ([]msg.ProtocolData, error)

// Conn is a bilateral transport connection. All methods are safe for
// concurrent use.
type Conn struct {
	conn   net.Conn
	logger zerolog.Logger

	// writeMu serializes frame writes; the gob encoder is not safe for
	// concurrent use.
	writeMu sync.Mutex
	enc     *msg.Encoder

	// mu guards handler, pending and closed.
	mu      sync.Mutex
	handler Handler
	pending map[uint32]chan msg.Message
	closed  bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewConn wraps an established network connection. The caller keeps
// responsibility for any authentication; Dial performs it.
func NewConn(conn net.Conn, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	c := &Conn{
		conn:    conn,
		logger:  logger,
		enc:     msg.NewEncoder(conn),
		pending: map[uint32]chan msg.Message{},
		group:   g,
		cancel:  cancel,
	}
	g.Go(func() error { return c.readLoop(ctx) })
	return c
}

// Dial connects to the endpoint and authenticates.
func Dial(ctx context.Context, e Endpoint, logger zerolog.Logger) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.Addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", e.Addr, err)
	}
	c := NewConn(conn, logger)
	_, err = c.Call(ctx, msg.Message{
		Type: msg.TypeMessage,
		Protocol: []msg.ProtocolData{
			{Name: msg.ProtocolAuth, ContentType: msg.ContentOctetStream},
			{Name: msg.ProtocolAuthUsername, ContentType: msg.ContentTextPlain, Data: []byte(e.Username)},
			{Name: msg.ProtocolAuthToken, ContentType: msg.ContentTextPlain, Data: []byte(e.Token)},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("authenticating with %s: %w", e.Addr, err)
	}
	return c, nil
}

// SetHandler registers the handler for incoming requests. Requests arriving
// while no handler is registered are answered with an error frame.
func (c *Conn) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Call sends a request and blocks until the peer's response, the context's
// cancellation, or connection close. An error frame from the peer is
// returned as an error.
func (c *Conn) Call(ctx context.Context, m msg.Message) (msg.Message, error) {
	m.RequestID = requestID()
	ch := make(chan msg.Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return msg.Message{}, ErrClosed
	}
	c.pending[m.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(m); err != nil {
		return msg.Message{}, fmt.Errorf("sending %v request: %w", m.Type, err)
	}

	select {
	case <-ctx.Done():
		return msg.Message{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return msg.Message{}, ErrClosed
		}
		if resp.Type == msg.TypeError {
			return resp, fmt.Errorf("peer error: %s", errText(resp))
		}
		return resp, nil
	}
}

// Close tears down the connection and waits for in-flight handlers.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	err := c.conn.Close()
	_ = c.group.Wait()
	c.failPending()
	return err
}

func (c *Conn) write(m msg.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(m)
}

func (c *Conn) readLoop(ctx context.Context) error {
	dec := msg.NewDecoder(c.conn)
	for {
		var m msg.Message
		if err := dec.Decode(&m); err != nil {
			c.failPending()
			return err
		}
		switch m.Type {
		case msg.TypeResponse, msg.TypeError:
			c.mu.Lock()
			ch, ok := c.pending[m.RequestID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug().Uint32("request_id", m.RequestID).Msg("response with no pending request")
				continue
			}
			ch <- m
		default:
			m := m
			c.group.Go(func() error {
				c.serve(ctx, m)
				return nil
			})
		}
	}
}

func (c *Conn) serve(ctx context.Context, m msg.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	var entries []msg.ProtocolData
	var err error
	if h == nil {
		err = errors.New("no handler registered")
	} else {
		entries, err = h(ctx, m)
	}

	resp := msg.Message{Type: msg.TypeResponse, RequestID: m.RequestID, Protocol: entries}
	if err != nil {
		c.logger.Debug().Err(err).Str("type", m.Type.String()).Msg("request failed")
		resp = msg.Message{
			Type:      msg.TypeError,
			RequestID: m.RequestID,
			Protocol: []msg.ProtocolData{
				{Name: msg.ProtocolError, ContentType: msg.ContentTextPlain, Data: []byte(err.Error())},
			},
		}
	}
	if werr := c.write(resp); werr != nil {
		c.logger.Debug().Err(werr).Msg("writing response")
	}
}

func (c *Conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func errText(m msg.Message) string {
	if p, ok := m.Get(msg.ProtocolError); ok {
		return string(p.Data)
	}
	return "unspecified error"
}

func requestID() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}
