package shelfarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func newTestChannel(t *testing.T, respond func(string) []string) (*CommandChannel, *fakeOpener) {
	t.Helper()
	opener := newFakeOpener(respond)
	ch := NewCommandChannel(ChannelOptions{
		PortName:      "/dev/ttyUSB0",
		PollInterval:  2 * time.Millisecond,
		GreetInterval: 20 * time.Millisecond,
		Opener:        opener.Open,
	}, logging.NewTestLogger(t))
	t.Cleanup(func() { _ = ch.Close() })
	return ch, opener
}

func TestChannelHandshake(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	assert.Equal(t, Disconnected, ch.State())

	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))
	assert.Equal(t, Connected, ch.State())
	assert.Equal(t, 1, opener.port("/dev/ttyUSB0").count("HELLO"))

	// a second Connect on a live channel is a no-op
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))
	assert.Equal(t, 1, opener.openCount())
}

func TestChannelHandshakeRetriesGreeting(t *testing.T) {
	greetings := 0
	ch, opener := newTestChannel(t, func(line string) []string {
		if line != "HELLO" {
			return nil
		}
		greetings++
		if greetings < 3 {
			return []string{"booting"}
		}
		return []string{"READY"}
	})

	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))
	assert.Equal(t, 3, opener.port("/dev/ttyUSB0").count("HELLO"))
}

func TestChannelHandshakeTimeout(t *testing.T) {
	ch, opener := newTestChannel(t, silentResponder)

	start := time.Now()
	err := ch.Connect(context.Background(), 115200, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, ch.State())

	port := opener.port("/dev/ttyUSB0")
	assert.True(t, port.isClosed())
	assert.GreaterOrEqual(t, port.count("HELLO"), 2)
}

func TestChannelOpenFailure(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	opener.err = errors.New("no such device")

	err := ch.Connect(context.Background(), 115200, time.Second)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, Disconnected, ch.State())
}

func TestChannelNotConnected(t *testing.T) {
	ch, _ := newTestChannel(t, controllerResponder)

	assert.ErrorIs(t, ch.Send("1,2,3"), ErrNotConnected)
	_, err := ch.AwaitResponse(context.Background(), Exact("OK"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestChannelRequest(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := ch.Request(ctx, "0,100.00,250000", Exact("OK"))
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Line)
	assert.Contains(t, opener.port("/dev/ttyUSB0").lines(), "0,100.00,250000")
}

func TestChannelDiscardsUnmatchedLines(t *testing.T) {
	ch, _ := newTestChannel(t, func(line string) []string {
		switch line {
		case "HELLO":
			return []string{"READY"}
		case "PING":
			return []string{"debug: tick", "temp 31C", "PONG"}
		}
		return nil
	})
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := ch.Request(ctx, "PING", Exact("PONG"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", resp.Line)
}

func TestChannelPrefixFields(t *testing.T) {
	ch, _ := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := ch.Request(ctx, "WEIGH", Prefix("WEIGHT"))
	require.NoError(t, err)
	assert.Equal(t, []string{"12.5", "g"}, resp.Fields)
}

func TestChannelKeepsLinesAfterAck(t *testing.T) {
	ch, _ := newTestChannel(t, func(line string) []string {
		if line == "HELLO" {
			return []string{"READY", "FW 1.2"}
		}
		return nil
	})
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := ch.AwaitResponse(ctx, Prefix("FW"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2"}, resp.Fields)
}

func TestChannelStripsCarriageReturns(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))
	opener.port("/dev/ttyUSB0").inject("DONE\r\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ch.AwaitResponse(ctx, Exact("DONE"))
	assert.NoError(t, err)
}

func TestChannelAwaitTimeout(t *testing.T) {
	ch, _ := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := ch.AwaitResponse(ctx, Exact("NEVER"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Connected, ch.State())
}

func TestChannelTransportError(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	unplugged := errors.New("device unplugged")
	opener.port("/dev/ttyUSB0").failReads(unplugged)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := ch.AwaitResponse(ctx, Exact("OK"))
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, unplugged)

	assert.Eventually(t, func() bool { return ch.State() == Disconnected }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ch.Send("1,2,3"), ErrNotConnected)
}

func TestChannelClose(t *testing.T) {
	ch, opener := newTestChannel(t, controllerResponder)
	require.NoError(t, ch.Connect(context.Background(), 115200, time.Second))

	require.NoError(t, ch.Close())
	assert.Equal(t, Closed, ch.State())
	assert.True(t, opener.port("/dev/ttyUSB0").isClosed())

	assert.ErrorIs(t, ch.Connect(context.Background(), 115200, time.Second), ErrChannelClosed)
	_, err := ch.AwaitResponse(context.Background(), Exact("OK"))
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.NoError(t, ch.Close())
}

func TestLineBuffer(t *testing.T) {
	var b lineBuffer
	b.feed([]byte("par"))
	_, ok := b.next()
	assert.False(t, ok)

	b.feed([]byte("tial\r\nsecond\n\nthi"))
	assert.Equal(t, []string{"partial", "second", ""}, b.drain())

	b.feed([]byte("rd\n"))
	line, ok := b.next()
	assert.True(t, ok)
	assert.Equal(t, "third", line)
}
