package netloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChannel_InterestBits(t *testing.T) {
	loop, stop := runLoop(t)
	defer stop()

	done := make(chan struct{})
	var ch *Channel
	loop.RunInLoop(func() {
		ch = NewChannel(loop, -1)
		assert.True(t, ch.IsNoneEvent())

		ch.EnableReading()
		assert.True(t, ch.IsReading())
		assert.False(t, ch.IsWriting())

		ch.EnableWriting()
		assert.True(t, ch.IsWriting())

		ch.DisableWriting()
		assert.False(t, ch.IsWriting())

		ch.DisableAll()
		assert.True(t, ch.IsNoneEvent())
		close(done)
	})
	<-done
}

func TestChannel_Handle_DispatchOrder(t *testing.T) {
	ch := &Channel{}
	var order []string

	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetErrorCallback(func() { order = append(order, "error") })
	ch.SetReadCallback(func(time.Time) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	ch.SetRevents(EventErr | EventRead | EventWrite)
	ch.Handle(time.Now())

	assert.Equal(t, []string{"error", "read", "write"}, order)
}

func TestChannel_Handle_HangupWithoutReadClosesOnly(t *testing.T) {
	ch := &Channel{}
	var order []string

	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetReadCallback(func(time.Time) { order = append(order, "read") })

	ch.SetRevents(EventHup)
	ch.Handle(time.Now())

	assert.Equal(t, []string{"close"}, order)
}

func TestChannel_Handle_HangupWithReadableDataSkipsClose(t *testing.T) {
	ch := &Channel{}
	var order []string

	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetReadCallback(func(time.Time) { order = append(order, "read") })

	ch.SetRevents(EventHup | EventRead)
	ch.Handle(time.Now())

	assert.Equal(t, []string{"read"}, order)
}

func TestChannel_Tie_SkipsDispatchAfterDestroy(t *testing.T) {
	conn := &Conn{}
	conn.destroyed = 1

	ch := &Channel{}
	ch.Tie(conn)

	var called bool
	ch.SetReadCallback(func(time.Time) { called = true })
	ch.SetRevents(EventRead)
	ch.Handle(time.Now())

	assert.False(t, called)
}
