package shelfarm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// ConnectionState is the lifecycle state of a CommandChannel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Handshaking
	Connected
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Port is the byte transport under a CommandChannel. Read must return (0, nil) when the
// read timeout elapses, as go.bug.st/serial ports do.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortOpener opens the named transport at baud.
type PortOpener func(name string, baud int) (Port, error)

// OpenSerialPort opens a real 8N1 serial port.
func OpenSerialPort(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(name, mode)
}

// Response is a line that satisfied a Matcher.
type Response struct {
	Line string
	// Fields holds the whitespace separated remainder for prefix matches.
	Fields []string
}

// Matcher selects the response an AwaitResponse call is waiting for.
type Matcher interface {
	Match(line string) (Response, bool)
	String() string
}

type exactMatcher string

// Exact matches a line equal to token.
func Exact(token string) Matcher { return exactMatcher(token) }

func (m exactMatcher) Match(line string) (Response, bool) {
	if line != string(m) {
		return Response{}, false
	}
	return Response{Line: line}, true
}

func (m exactMatcher) String() string { return fmt.Sprintf("exact %q", string(m)) }

type prefixMatcher string

// Prefix matches a line starting with prefix and tokenizes the rest.
func Prefix(prefix string) Matcher { return prefixMatcher(prefix) }

func (m prefixMatcher) Match(line string) (Response, bool) {
	rest, ok := strings.CutPrefix(line, string(m))
	if !ok {
		return Response{}, false
	}
	return Response{Line: line, Fields: strings.Fields(rest)}, true
}

func (m prefixMatcher) String() string { return fmt.Sprintf("prefix %q", string(m)) }

// ChannelOptions configures a CommandChannel.
type ChannelOptions struct {
	PortName string
	// Greeting is sent repeatedly during the handshake until Ack comes back.
	Greeting string
	Ack      string
	// MailboxSize bounds the unread lines kept between responses.
	MailboxSize int
	// PollInterval is the transport read timeout; it bounds how quickly Close and the
	// handshake deadline are observed.
	PollInterval time.Duration
	// GreetInterval is how long to wait for Ack before greeting again.
	GreetInterval time.Duration
	Opener        PortOpener
}

const (
	defaultGreeting      = "HELLO"
	defaultAck           = "READY"
	defaultPollInterval  = 50 * time.Millisecond
	defaultGreetInterval = 250 * time.Millisecond
	defaultMailboxSize   = 16
)

func (o *ChannelOptions) applyDefaults() {
	if o.Greeting == "" {
		o.Greeting = defaultGreeting
	}
	if o.Ack == "" {
		o.Ack = defaultAck
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.GreetInterval <= 0 {
		o.GreetInterval = defaultGreetInterval
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = defaultMailboxSize
	}
	if o.Opener == nil {
		o.Opener = OpenSerialPort
	}
}

// session is one successful connection: its port, reader and mailbox.
type session struct {
	port     Port
	mailbox  *Mailbox
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.Once
	closeErr error
}

func (s *session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) finish(err error) error {
	s.done.Do(func() {
		s.signalStop()
		s.mailbox.Close(err)
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

// CommandChannel is a line oriented request/response link to the motor controller.
// A background reader moves complete lines into a Mailbox; callers Send a command and
// AwaitResponse for the line that acknowledges it.
type CommandChannel struct {
	opts   ChannelOptions
	logger logging.Logger

	mu    sync.Mutex
	state ConnectionState
	sess  *session

	writeMu sync.Mutex
	// requestMu keeps Request pairs from interleaving so responses reach their caller
	requestMu sync.Mutex
	readers   sync.WaitGroup
}

// NewCommandChannel returns a Disconnected channel.
func NewCommandChannel(opts ChannelOptions, logger logging.Logger) *CommandChannel {
	opts.applyDefaults()
	return &CommandChannel{opts: opts, logger: logger}
}

// PortName returns the transport name the channel opens.
func (c *CommandChannel) PortName() string {
	return c.opts.PortName
}

// State returns the current connection state.
func (c *CommandChannel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CommandChannel) setState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closed {
		c.state = s
	}
}

// Connect opens the transport and performs the greeting handshake. It returns
// ErrConnectionTimeout if the ack does not arrive within timeout, leaving the channel
// Disconnected so Connect may be retried.
func (c *CommandChannel) Connect(ctx context.Context, baud int, timeout time.Duration) error {
	c.mu.Lock()
	switch c.state {
	case Handshaking:
		c.mu.Unlock()
		return ErrHandshakeInProgress
	case Connected:
		c.mu.Unlock()
		return nil
	case Closed:
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.state = Handshaking
	c.mu.Unlock()

	port, err := c.opts.Opener(c.opts.PortName, baud)
	if err != nil {
		c.setState(Disconnected)
		return &TransportError{Op: "open " + c.opts.PortName, Err: err}
	}
	if err := port.SetReadTimeout(c.opts.PollInterval); err != nil {
		c.abortHandshake(port)
		return &TransportError{Op: "configure " + c.opts.PortName, Err: err}
	}

	lines := &lineBuffer{}
	if err := c.handshake(ctx, port, lines, timeout); err != nil {
		c.abortHandshake(port)
		return err
	}

	sess := &session{
		port:    port,
		mailbox: NewMailbox(c.opts.MailboxSize),
		stop:    make(chan struct{}),
	}
	for _, line := range lines.drain() {
		sess.mailbox.Put(line)
	}

	c.mu.Lock()
	if c.state != Handshaking {
		c.mu.Unlock()
		_ = port.Close()
		return ErrChannelClosed
	}
	c.state = Connected
	c.sess = sess
	c.readers.Add(1)
	c.mu.Unlock()

	utils.PanicCapturingGo(func() {
		defer c.readers.Done()
		c.readLoop(sess, lines)
	})

	c.logger.Infof("connected to %s at %d baud", c.opts.PortName, baud)
	return nil
}

func (c *CommandChannel) abortHandshake(port Port) {
	if err := port.Close(); err != nil {
		c.logger.Debugf("error closing %s after failed handshake: %v", c.opts.PortName, err)
	}
	c.setState(Disconnected)
}

func (c *CommandChannel) handshake(ctx context.Context, port Port, lines *lineBuffer, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	greeting := []byte(c.opts.Greeting + "\n")
	buf := make([]byte, 256)
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.State() == Closed {
			return ErrChannelClosed
		}
		if !time.Now().Before(deadline) {
			return errors.Wrapf(ErrConnectionTimeout, "no %q from %s after %s (%d greetings)",
				c.opts.Ack, c.opts.PortName, timeout, attempts)
		}

		if _, err := port.Write(greeting); err != nil {
			return &TransportError{Op: "write greeting", Err: err}
		}
		attempts++

		window := time.Now().Add(c.opts.GreetInterval)
		if window.After(deadline) {
			window = deadline
		}
		for time.Now().Before(window) {
			n, err := port.Read(buf)
			if err != nil {
				return &TransportError{Op: "read handshake", Err: err}
			}
			lines.feed(buf[:n])
			for {
				line, ok := lines.next()
				if !ok {
					break
				}
				if line == c.opts.Ack {
					c.logger.Debugf("handshake with %s completed after %d greetings", c.opts.PortName, attempts)
					return nil
				}
				c.logger.Debugf("ignoring %q during handshake", line)
			}
		}
	}
}

func (c *CommandChannel) readLoop(sess *session, lines *lineBuffer) {
	buf := make([]byte, 256)
	for !sess.stopped() {
		n, err := sess.port.Read(buf)
		if err != nil {
			if sess.stopped() {
				return
			}
			c.fail(sess, &TransportError{Op: "read", Err: err})
			return
		}
		if n == 0 {
			continue
		}
		lines.feed(buf[:n])
		for _, line := range lines.drain() {
			sess.mailbox.Put(line)
		}
	}
}

// fail tears down a session after an I/O error and moves the channel to Disconnected.
// Waiters in AwaitResponse receive err.
func (c *CommandChannel) fail(sess *session, err error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		if c.state == Connected {
			c.state = Disconnected
		}
	}
	c.mu.Unlock()

	c.logger.Warnf("command channel %s failed: %v", c.opts.PortName, err)
	if cerr := sess.finish(err); cerr != nil {
		c.logger.Debugf("error closing %s: %v", c.opts.PortName, cerr)
	}
}

func (c *CommandChannel) current() (*session, ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess, c.state
}

// Send writes message, appending a newline if it has none.
func (c *CommandChannel) Send(message string) error {
	sess, state := c.current()
	if state != Connected || sess == nil {
		return errors.Wrapf(ErrNotConnected, "send %q (state %s)", strings.TrimSpace(message), state)
	}
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}

	c.writeMu.Lock()
	_, err := io.WriteString(sess.port, message)
	c.writeMu.Unlock()
	if err != nil {
		terr := &TransportError{Op: "write", Err: err}
		c.fail(sess, terr)
		return terr
	}
	return nil
}

// AwaitResponse blocks until a line satisfying m arrives. Lines that do not match are
// logged and discarded. Cancel ctx to bound the wait.
func (c *CommandChannel) AwaitResponse(ctx context.Context, m Matcher) (Response, error) {
	sess, state := c.current()
	if sess == nil {
		if state == Closed {
			return Response{}, ErrChannelClosed
		}
		return Response{}, errors.Wrapf(ErrNotConnected, "await %s", m)
	}

	for {
		line, err := sess.mailbox.Pop(ctx)
		if err != nil {
			return Response{}, err
		}
		if resp, ok := m.Match(line); ok {
			return resp, nil
		}
		c.logger.Debugf("discarding %q while waiting for %s", line, m)
	}
}

// Request sends message and waits for the matching response. Concurrent requests are
// serialized.
func (c *CommandChannel) Request(ctx context.Context, message string, m Matcher) (Response, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if err := c.Send(message); err != nil {
		return Response{}, err
	}
	return c.AwaitResponse(ctx, m)
}

// Close stops the reader, closes the transport and leaves the channel Closed for good.
func (c *CommandChannel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.sess = nil
	c.state = Closed
	c.mu.Unlock()

	var err error
	if sess != nil {
		sess.signalStop()
		c.readers.Wait()
		err = sess.finish(ErrChannelClosed)
	}
	c.readers.Wait()
	c.logger.Debugf("command channel %s closed", c.opts.PortName)
	return err
}

// lineBuffer accumulates bytes and splits them into newline terminated lines with
// carriage returns stripped.
type lineBuffer struct {
	buf bytes.Buffer
}

func (b *lineBuffer) feed(p []byte) {
	b.buf.Write(p)
}

func (b *lineBuffer) next() (string, bool) {
	i := bytes.IndexByte(b.buf.Bytes(), '\n')
	if i < 0 {
		return "", false
	}
	line := string(b.buf.Next(i + 1))
	return strings.TrimRight(line, "\r\n"), true
}

func (b *lineBuffer) drain() []string {
	var out []string
	for {
		line, ok := b.next()
		if !ok {
			return out
		}
		out = append(out, line)
	}
}
