package shelfarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox(4)
	m.Put("a")
	m.Put("b")
	m.Put("c")

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := m.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, ok := m.TryPop()
	assert.False(t, ok)
}

func TestMailboxDropsOldest(t *testing.T) {
	m := NewMailbox(2)
	m.Put("a")
	m.Put("b")
	m.Put("c")

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, m.Dropped())
	line, _ := m.TryPop()
	assert.Equal(t, "b", line)
	line, _ = m.TryPop()
	assert.Equal(t, "c", line)
}

func TestMailboxSingleSlotKeepsLatest(t *testing.T) {
	m := NewMailbox(0)
	for _, l := range []string{"1", "2", "3"} {
		m.Put(l)
	}
	line, ok := m.TryPop()
	require.True(t, ok)
	assert.Equal(t, "3", line)
	assert.Equal(t, 2, m.Dropped())
}

func TestMailboxCloseDrainsFirst(t *testing.T) {
	m := NewMailbox(4)
	m.Put("last words")
	boom := errors.New("boom")
	m.Close(boom)
	m.Close(nil)
	m.Put("ignored")

	ctx := context.Background()
	line, err := m.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last words", line)

	_, err = m.Pop(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestMailboxCloseWakesWaiter(t *testing.T) {
	m := NewMailbox(1)
	errs := make(chan error, 1)
	go func() {
		_, err := m.Pop(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close(nil)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
}

func TestMailboxPopHonorsContext(t *testing.T) {
	m := NewMailbox(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxPopWaitsForPut(t *testing.T) {
	m := NewMailbox(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Put("late")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	line, err := m.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", line)
}
