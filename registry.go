package shelfarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
)

// ChannelConfig identifies a shared controller link.
type ChannelConfig struct {
	Port        string
	Baudrate    int
	Timeout     time.Duration
	MailboxSize int
	Greeting    string
	Ack         string
}

type channelEntry struct {
	channel   *CommandChannel
	config    ChannelConfig
	refCount  int64 // Atomic reference counter
	lastError error
	mu        sync.RWMutex
}

// ChannelRegistry shares one CommandChannel per serial port between service instances.
// The channel connects on first acquire and closes when the last holder releases it.
type ChannelRegistry struct {
	entries map[string]*channelEntry // port path -> entry
	mu      sync.RWMutex
	opener  PortOpener
}

// NewChannelRegistry returns an empty registry. A nil opener opens real serial ports.
func NewChannelRegistry(opener PortOpener) *ChannelRegistry {
	return &ChannelRegistry{
		entries: make(map[string]*channelEntry),
		opener:  opener,
	}
}

var globalChannels = NewChannelRegistry(nil)

func newChannelConfig(port string, baud int, timeout time.Duration, mailboxSize int, protocol ProtocolConfig) ChannelConfig {
	return ChannelConfig{
		Port:        port,
		Baudrate:    baud,
		Timeout:     timeout,
		MailboxSize: mailboxSize,
		Greeting:    protocol.Greeting,
		Ack:         protocol.Ack,
	}
}

// Acquire returns the connected channel for cfg.Port, connecting it if needed.
func (r *ChannelRegistry) Acquire(ctx context.Context, cfg ChannelConfig, logger logging.Logger) (*CommandChannel, error) {
	r.mu.RLock()
	entry, exists := r.entries[cfg.Port]
	r.mu.RUnlock()

	if exists {
		return r.acquireExisting(entry, cfg)
	}
	return r.createChannel(ctx, cfg, logger)
}

func (r *ChannelRegistry) acquireExisting(entry *channelEntry, cfg ChannelConfig) (*CommandChannel, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.channel == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached channel creation error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("channel not available for port %s", cfg.Port)
	}
	if entry.config != cfg {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing channel on %s uses different config (refCount: %d)", cfg.Port, currentRefCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.channel, nil
}

func (r *ChannelRegistry) createChannel(ctx context.Context, cfg ChannelConfig, logger logging.Logger) (*CommandChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[cfg.Port]; exists && entry.channel != nil {
		return r.acquireExisting(entry, cfg)
	}

	channel := NewCommandChannel(ChannelOptions{
		PortName:    cfg.Port,
		Greeting:    cfg.Greeting,
		Ack:         cfg.Ack,
		MailboxSize: cfg.MailboxSize,
		Opener:      r.opener,
	}, logger)

	if err := channel.Connect(ctx, cfg.Baudrate, cfg.Timeout); err != nil {
		// nothing to share; the next Acquire retries from scratch
		delete(r.entries, cfg.Port)
		return nil, fmt.Errorf("failed to connect to controller on %s: %w", cfg.Port, err)
	}

	r.entries[cfg.Port] = &channelEntry{
		channel:  channel,
		config:   cfg,
		refCount: 1,
	}
	logger.Infof("Created command channel for port %s", cfg.Port)
	return channel, nil
}

// Release drops one reference to the channel on port, closing it with the last one.
func (r *ChannelRegistry) Release(port string) error {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount > 0 {
		return nil
	}

	r.mu.Lock()
	if r.entries[port] == entry {
		delete(r.entries, port)
	}
	r.mu.Unlock()

	var err error
	if entry.channel != nil {
		err = entry.channel.Close()
		entry.channel = nil
	}
	atomic.StoreInt64(&entry.refCount, 0)
	return err
}

// ForceClose closes the channel on port regardless of holders.
func (r *ChannelRegistry) ForceClose(port string) error {
	r.mu.Lock()
	entry, exists := r.entries[port]
	if exists {
		delete(r.entries, port)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.channel != nil {
		err = entry.channel.Close()
		entry.channel = nil
		atomic.StoreInt64(&entry.refCount, 0)
	}
	return err
}

// Status reports the reference count and connection state for port.
func (r *ChannelRegistry) Status(port string) (int64, ConnectionState, bool) {
	r.mu.RLock()
	entry, exists := r.entries[port]
	r.mu.RUnlock()

	if !exists {
		return 0, Disconnected, false
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	state := Closed
	if entry.channel != nil {
		state = entry.channel.State()
	}
	return atomic.LoadInt64(&entry.refCount), state, true
}

// reconnect redials a shared channel that dropped to Disconnected after a transport
// failure. Channels in any other state are left alone.
func reconnect(ctx context.Context, channel *CommandChannel, baud int, timeout time.Duration, logger logging.Logger) error {
	if channel.State() != Disconnected {
		return nil
	}
	logger.Infof("reconnecting to controller on %s", channel.PortName())
	if err := channel.Connect(ctx, baud, timeout); err != nil {
		return fmt.Errorf("failed to reconnect to controller on %s: %w", channel.PortName(), err)
	}
	return nil
}
