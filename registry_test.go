package shelfarm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

// Test configuration factory
func testChannelConfig(port string) ChannelConfig {
	return ChannelConfig{
		Port:        port,
		Baudrate:    115200,
		Timeout:     time.Second,
		MailboxSize: defaultMailboxSize,
		Greeting:    defaultGreeting,
		Ack:         defaultAck,
	}
}

// TestRegistryCreation tests basic registry creation and initialization
func TestRegistryCreation(t *testing.T) {
	registry := NewChannelRegistry(nil)

	if registry == nil {
		t.Fatal("NewChannelRegistry returned nil")
	}
	if registry.entries == nil {
		t.Fatal("Registry entries map not initialized")
	}
	if len(registry.entries) != 0 {
		t.Fatal("Registry should start empty")
	}
}

// TestSharedAccess tests that two holders of one port share a single connection
func TestSharedAccess(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	first, err := registry.Acquire(ctx, testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)
	second, err := registry.Acquire(ctx, testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, opener.openCount())
	assert.Equal(t, Connected, first.State())

	refs, state, ok := registry.Status("/dev/ttyUSB0")
	assert.True(t, ok)
	assert.Equal(t, int64(2), refs)
	assert.Equal(t, Connected, state)
}

// TestCleanupOnZeroRefs tests that the channel closes with its last reference
func TestCleanupOnZeroRefs(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	channel, err := registry.Acquire(ctx, testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)
	_, err = registry.Acquire(ctx, testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)

	require.NoError(t, registry.Release("/dev/ttyUSB0"))
	refs, _, ok := registry.Status("/dev/ttyUSB0")
	assert.True(t, ok)
	assert.Equal(t, int64(1), refs)
	assert.Equal(t, Connected, channel.State())

	require.NoError(t, registry.Release("/dev/ttyUSB0"))
	_, _, ok = registry.Status("/dev/ttyUSB0")
	assert.False(t, ok)
	assert.Equal(t, Closed, channel.State())
	assert.True(t, opener.port("/dev/ttyUSB0").isClosed())

	// releasing an unknown port is a no-op
	assert.NoError(t, registry.Release("/dev/ttyUSB0"))

	// the next acquire reconnects
	_, err = registry.Acquire(ctx, testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)
	assert.Equal(t, 2, opener.openCount())
}

// TestForceCloseChannel tests closing regardless of holders
func TestForceCloseChannel(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)

	channel, err := registry.Acquire(context.Background(), testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)
	_, err = registry.Acquire(context.Background(), testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)

	require.NoError(t, registry.ForceClose("/dev/ttyUSB0"))
	assert.Equal(t, Closed, channel.State())
	_, _, ok := registry.Status("/dev/ttyUSB0")
	assert.False(t, ok)

	assert.NoError(t, registry.ForceClose("/dev/ttyUSB9"))
}

// TestConfigCompatibility tests that a second holder must match the live config
func TestConfigCompatibility(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)

	_, err := registry.Acquire(context.Background(), testChannelConfig("/dev/ttyUSB0"), logger)
	require.NoError(t, err)

	other := testChannelConfig("/dev/ttyUSB0")
	other.Baudrate = 9600
	_, err = registry.Acquire(context.Background(), other, logger)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "conflict"), "unexpected error: %v", err)

	refs, _, _ := registry.Status("/dev/ttyUSB0")
	assert.Equal(t, int64(1), refs)
}

// TestConnectFailureNotCached tests that a failed handshake leaves nothing registered
func TestConnectFailureNotCached(t *testing.T) {
	opener := newFakeOpener(silentResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)

	cfg := testChannelConfig("/dev/ttyUSB0")
	cfg.Timeout = 30 * time.Millisecond
	_, err := registry.Acquire(context.Background(), cfg, logger)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	_, _, ok := registry.Status("/dev/ttyUSB0")
	assert.False(t, ok)

	opener.err = errors.New("permission denied")
	_, err = registry.Acquire(context.Background(), cfg, logger)
	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
}

// TestMultiplePortsAccess tests concurrent access to different ports
func TestMultiplePortsAccess(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)

	ports := []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}
	var wg sync.WaitGroup
	var successCount int64

	for _, port := range ports {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			if _, err := registry.Acquire(context.Background(), testChannelConfig(p), logger); err == nil {
				atomic.AddInt64(&successCount, 1)
			}
		}(port)
	}
	wg.Wait()

	assert.Equal(t, int64(len(ports)), successCount)
	for _, port := range ports {
		refs, state, ok := registry.Status(port)
		assert.True(t, ok, port)
		assert.Equal(t, int64(1), refs)
		assert.Equal(t, Connected, state)
		require.NoError(t, registry.Release(port))
	}
}

// TestConcurrentRegistryAccess tests concurrent acquire and release on one port
func TestConcurrentRegistryAccess(t *testing.T) {
	opener := newFakeOpener(controllerResponder)
	registry := NewChannelRegistry(opener.Open)
	logger := logging.NewTestLogger(t)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Acquire(context.Background(), testChannelConfig("/dev/ttyUSB0"), logger)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, opener.openCount())

	refs, _, _ := registry.Status("/dev/ttyUSB0")
	assert.Equal(t, int64(workers), refs)
	for i := 0; i < workers; i++ {
		require.NoError(t, registry.Release("/dev/ttyUSB0"))
	}
	_, _, ok := registry.Status("/dev/ttyUSB0")
	assert.False(t, ok)
}
