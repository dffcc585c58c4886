package eventbus

import (
	"testing"

	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_OnAndEmit(t *testing.T) {
	b := New(zerolog.Nop())
	var got []payment.PayResult

	On(b, Success, func(r payment.PayResult) { got = append(got, r) })
	Emit(b, Success, payment.Success("tx-1", nil))
	Emit(b, Success, payment.Success("tx-2", nil))

	assert.Len(t, got, 2)
	assert.Equal(t, "tx-2", got[1].TransactionID)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := New(zerolog.Nop())
	fails := 0

	On(b, Fail, func(payment.PayResult) { fails++ })
	Emit(b, Success, payment.Success("", nil))

	assert.Equal(t, 0, fails)
}

func TestBus_Once(t *testing.T) {
	b := New(zerolog.Nop())
	calls := 0

	Once(b, PayStart, func(PayStartEvent) { calls++ })
	Emit(b, PayStart, PayStartEvent{Channel: payment.ChannelWechat})
	Emit(b, PayStart, PayStartEvent{Channel: payment.ChannelWechat})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.ListenerCount(PayStart.Name()))
}

func TestBus_Off(t *testing.T) {
	b := New(zerolog.Nop())
	calls := 0

	sub := On(b, Cancel, func(payment.PayResult) { calls++ })
	assert.True(t, b.Off(sub))
	assert.False(t, b.Off(sub))

	Emit(b, Cancel, payment.Cancel("closed", nil))
	assert.Equal(t, 0, calls)
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(zerolog.Nop())
	var order []string

	On(b, StatusChange, func(StatusChangeEvent) { order = append(order, "first") })
	On(b, StatusChange, func(StatusChangeEvent) { panic("boom") })
	On(b, StatusChange, func(e StatusChangeEvent) { order = append(order, string(e.Status)) })

	assert.NotPanics(t, func() {
		Emit(b, StatusChange, StatusChangeEvent{Status: payment.StatusPending})
	})
	assert.Equal(t, []string{"first", "pending"}, order)
}

func TestBus_Clear(t *testing.T) {
	b := New(zerolog.Nop())
	calls := 0

	On(b, BeforePay, func(payment.PayParams) { calls++ })
	On(b, Success, func(payment.PayResult) { calls++ })
	b.Clear()

	Emit(b, BeforePay, payment.PayParams{})
	Emit(b, Success, payment.PayResult{})
	assert.Equal(t, 0, calls)
}

func TestBus_SubscribeDuringEmit(t *testing.T) {
	b := New(zerolog.Nop())
	late := 0

	On(b, Success, func(payment.PayResult) {
		On(b, Success, func(payment.PayResult) { late++ })
	})
	Emit(b, Success, payment.PayResult{})

	assert.Equal(t, 0, late, "handlers added mid-emit wait for the next emission")
	Emit(b, Success, payment.PayResult{})
	assert.Equal(t, 1, late)
}
