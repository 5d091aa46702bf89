// Package bufferedagent wraps an agent and buffers outgoing payments,
// collapsing them down to a single signed claim per flush. Useful for
// high-frequency micro-payments where signing and notifying the peer for
// every individual payment would dominate.
package bufferedagent

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/interledger-go/xrp-asym-client/agent"
)

// ErrBufferFull indicates that the payment buffer has reached the maximum
// size configured when the buffered agent was created.
var ErrBufferFull = errors.New("buffer full")

// ErrClosed indicates the buffered agent has been closed.
var ErrClosed = errors.New("buffered agent closed")

// Sender is the upstream payment method. Satisfied by *agent.Agent.
type Sender interface {
	SendMoney(ctx context.Context, amount *big.Int) error
}

// Config contains the information that can be supplied to configure the
// Agent at construction.
type Config struct {
	Sender Sender

	// MaxBufferSize is the maximum number of payments that may wait in the
	// buffer. Zero means unbounded.
	MaxBufferSize int

	Logger zerolog.Logger

	Events chan<- agent.Event
}

// NewAgent constructs a new buffered agent with the given config.
func NewAgent(c Config) *Agent {
	a := &Agent{
		sender:        c.Sender,
		maxBufferSize: c.MaxBufferSize,
		logger:        c.Logger,
		events:        c.Events,

		bufferReady:  make(chan struct{}, 1),
		sendingReady: make(chan struct{}, 1),
		idle:         make(chan struct{}),
	}
	a.resetBuffer()
	a.sendingReady <- struct{}{}
	go a.flushLoop()
	return a
}

// Agent buffers payments while a send is in flight and collapses them into
// a single cumulative claim when the sender becomes available.
//
// All functions of the Agent are safe to call from multiple goroutines as
// they use an internal mutex.
type Agent struct {
	logger zerolog.Logger
	events chan<- agent.Event

	sender Sender

	// mu is a lock for the mutable fields of this type. It should be locked
	// when reading or writing any of the mutable fields. The mutable fields
	// are listed below. If pushing to a chan, such as Events, it is
	// unnecessary to lock.
	mu sync.Mutex

	maxBufferSize     int
	closed            bool
	bufferID          string
	bufferCount       int
	bufferTotalAmount *big.Int

	bufferReady  chan struct{}
	sendingReady chan struct{}
	idle         chan struct{}
}

// MaxBufferSize returns the maximum buffer size that was configured at
// construction or changed with SetMaxBufferSize.
func (a *Agent) MaxBufferSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxBufferSize
}

// SetMaxBufferSize sets and changes the maximum buffer size.
func (a *Agent) SetMaxBufferSize(maxBufferSize int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxBufferSize = maxBufferSize
}

// SendMoney buffers a payment which will be included in the next flushed
// claim. The identifier of the buffer it joined is returned. An error is
// returned immediately if the buffer is full; errors from the flush itself
// are reported asynchronously on the events channel.
func (a *Agent) SendMoney(amount *big.Int) (bufferID string, err error) {
	if amount == nil || amount.Sign() == 0 {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.bufferID, nil
	}
	if amount.Sign() < 0 {
		return "", errors.New("cannot buffer negative amount")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrClosed
	}
	if a.maxBufferSize != 0 && a.bufferCount == a.maxBufferSize {
		return "", ErrBufferFull
	}
	a.bufferCount++
	a.bufferTotalAmount.Add(a.bufferTotalAmount, amount)
	bufferID = a.bufferID
	select {
	case a.bufferReady <- struct{}{}:
	default:
	}
	return bufferID, nil
}

// Wait waits for sending of all buffered payments to complete and the
// buffer to be empty. It can be called multiple times, and it can be called
// in between sends of new payments.
func (a *Agent) Wait() {
	<-a.idle
}

// Close stops the flush loop. Payments still buffered are dropped; call
// Wait first to drain them. It is not possible to buffer new payments once
// called.
func (a *Agent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.bufferReady)
}

func (a *Agent) flushLoop() {
	defer a.logger.Debug().Msg("flush loop stopped")
	a.logger.Debug().Msg("flush loop started")
	for {
		_, open := <-a.sendingReady
		if !open {
			return
		}
		select {
		case _, open = <-a.bufferReady:
			if !open {
				return
			}
			a.flush()
		default:
			select {
			case _, open = <-a.bufferReady:
				if !open {
					return
				}
				a.flush()
			case a.idle <- struct{}{}:
				a.sendingReady <- struct{}{}
			}
		}
	}
}

func (a *Agent) flush() {
	var bufferID string
	var count int
	var total *big.Int

	func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		bufferID = a.bufferID
		count = a.bufferCount
		total = a.bufferTotalAmount
		a.resetBuffer()
	}()

	if count == 0 {
		a.sendingReady <- struct{}{}
		return
	}

	err := a.sender.SendMoney(context.Background(), total)
	if err != nil {
		a.sendEvent(agent.ErrorEvent{Err: err})
		a.sendingReady <- struct{}{}
		return
	}
	a.sendEvent(BufferedPaymentsSentEvent{
		BufferID: bufferID,
		Payments: count,
		Amount:   total,
	})
	a.sendingReady <- struct{}{}
}

func (a *Agent) resetBuffer() {
	a.bufferID = uuid.NewString()
	a.bufferCount = 0
	a.bufferTotalAmount = new(big.Int)
}

func (a *Agent) sendEvent(e agent.Event) {
	if a.events != nil {
		a.events <- e
	}
}
