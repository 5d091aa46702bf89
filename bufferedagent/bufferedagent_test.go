package bufferedagent

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interledger-go/xrp-asym-client/agent"
)

type senderFunc func(ctx context.Context, amount *big.Int) error

func (f senderFunc) SendMoney(ctx context.Context, amount *big.Int) error {
	return f(ctx, amount)
}

func TestSendMoneyCollapsesBuffer(t *testing.T) {
	var mu sync.Mutex
	var sent []*big.Int
	events := make(chan agent.Event, 32)
	a := NewAgent(Config{
		Sender: senderFunc(func(ctx context.Context, amount *big.Int) error {
			mu.Lock()
			defer mu.Unlock()
			sent = append(sent, new(big.Int).Set(amount))
			return nil
		}),
		Logger: zerolog.Nop(),
		Events: events,
	})
	defer a.Close()

	for i := 0; i < 10; i++ {
		_, err := a.SendMoney(big.NewInt(5))
		require.NoError(t, err)
	}
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	total := new(big.Int)
	for _, s := range sent {
		total.Add(total, s)
	}
	assert.Equal(t, "50", total.String())
	assert.True(t, len(sent) <= 10, "payments must be collapsed, never multiplied")
}

func TestSendMoneyZeroIsNoop(t *testing.T) {
	a := NewAgent(Config{
		Sender: senderFunc(func(ctx context.Context, amount *big.Int) error {
			t.Error("nothing should be sent")
			return nil
		}),
		Logger: zerolog.Nop(),
	})
	defer a.Close()

	_, err := a.SendMoney(big.NewInt(0))
	require.NoError(t, err)
	_, err = a.SendMoney(nil)
	require.NoError(t, err)
	a.Wait()

	_, err = a.SendMoney(big.NewInt(-1))
	require.Error(t, err)
}

func TestSendMoneyBufferFull(t *testing.T) {
	sending := make(chan struct{})
	block := make(chan struct{})
	a := NewAgent(Config{
		Sender: senderFunc(func(ctx context.Context, amount *big.Int) error {
			close(sending)
			<-block
			return nil
		}),
		MaxBufferSize: 1,
		Logger:        zerolog.Nop(),
	})
	defer a.Close()
	defer close(block)

	// The first payment starts a send that blocks; the next fills the
	// buffer.
	_, err := a.SendMoney(big.NewInt(1))
	require.NoError(t, err)
	<-sending
	_, err = a.SendMoney(big.NewInt(1))
	require.NoError(t, err)
	_, err = a.SendMoney(big.NewInt(1))
	require.ErrorIs(t, err, ErrBufferFull)
}

func TestSendErrorsReportedOnEvents(t *testing.T) {
	wantErr := errors.New("transport gone")
	events := make(chan agent.Event, 32)
	a := NewAgent(Config{
		Sender: senderFunc(func(ctx context.Context, amount *big.Int) error {
			return wantErr
		}),
		Logger: zerolog.Nop(),
		Events: events,
	})
	defer a.Close()

	_, err := a.SendMoney(big.NewInt(7))
	require.NoError(t, err)
	a.Wait()

	select {
	case e := <-events:
		ee, ok := e.(agent.ErrorEvent)
		require.True(t, ok, "expected an error event, got %T", e)
		assert.ErrorIs(t, ee.Err, wantErr)
	default:
		t.Fatal("expected an error event")
	}
}

func TestCloseStopsBuffering(t *testing.T) {
	a := NewAgent(Config{
		Sender: senderFunc(func(ctx context.Context, amount *big.Int) error { return nil }),
		Logger: zerolog.Nop(),
	})
	a.Close()
	a.Close()

	_, err := a.SendMoney(big.NewInt(1))
	require.ErrorIs(t, err, ErrClosed)
}
