package shelfarm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/spatialmath"
)

var errPortClosed = errors.New("port closed")

// fakePort is an in-memory controller. Every line written is passed to respond and the
// returned lines are queued for reading.
type fakePort struct {
	mu       sync.Mutex
	incoming bytes.Buffer
	pending  lineBuffer
	written  []string
	timeout  time.Duration
	readErr  error
	closed   bool
	respond  func(line string) []string
	wake     chan struct{}
}

func newFakePort(respond func(line string) []string) *fakePort {
	return &fakePort{respond: respond, timeout: 5 * time.Millisecond, wake: make(chan struct{}, 1)}
}

func (p *fakePort) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// controllerResponder answers like a healthy controller.
func controllerResponder(line string) []string {
	switch {
	case line == defaultGreeting:
		return []string{defaultAck}
	case strings.HasPrefix(line, "GRIP"):
		return []string{"OK"}
	case line == "WEIGH":
		return []string{"WEIGHT 12.5 g"}
	case strings.Contains(line, ","):
		return []string{"OK"}
	default:
		return nil
	}
}

func silentResponder(string) []string { return nil }

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if p.incoming.Len() > 0 {
		n, _ := p.incoming.Read(buf)
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	// behave like a serial read timeout, but wake early when data arrives
	select {
	case <-p.wake:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed || p.incoming.Len() == 0 {
			return 0, nil
		}
		n, _ := p.incoming.Read(buf)
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.pending.feed(data)
	for _, line := range p.pending.drain() {
		p.written = append(p.written, line)
		if p.respond == nil {
			continue
		}
		for _, reply := range p.respond(line) {
			p.incoming.WriteString(reply + "\n")
		}
	}
	p.signal()
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.signal()
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

// inject queues raw bytes as if the controller had sent them unprompted.
func (p *fakePort) inject(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.incoming.WriteString(data)
	p.signal()
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.signal()
}

func (p *fakePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) count(line string) int {
	n := 0
	for _, l := range p.lines() {
		if l == line {
			n++
		}
	}
	return n
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener hands out one fakePort per port name.
type fakeOpener struct {
	mu      sync.Mutex
	ports   map[string]*fakePort
	opens   int
	respond func(line string) []string
	err     error
}

func newFakeOpener(respond func(line string) []string) *fakeOpener {
	return &fakeOpener{ports: make(map[string]*fakePort), respond: respond}
}

func (o *fakeOpener) Open(name string, baud int) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	o.opens++
	p := newFakePort(o.respond)
	o.ports[name] = p
	return p, nil
}

func (o *fakeOpener) port(name string) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[name]
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// fakeTransmitter records requests and answers from a script.
type fakeTransmitter struct {
	mu       sync.Mutex
	sent     []string
	failAt   int
	failWith error
	weigh    string
}

func (f *fakeTransmitter) Request(ctx context.Context, message string, m Matcher) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if f.failWith != nil && len(f.sent) == f.failAt {
		return Response{}, f.failWith
	}
	f.sent = append(f.sent, strings.TrimSuffix(message, "\n"))

	reply := "OK"
	if message == "WEIGH" {
		reply = f.weigh
		if reply == "" {
			reply = "WEIGHT 42.0 g"
		}
	}
	resp, ok := m.Match(reply)
	if !ok {
		return Response{}, errors.New("unexpected matcher " + m.String())
	}
	return resp, nil
}

func (f *fakeTransmitter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// failingSolver wraps a solver and fails on the n-th call (0 based).
type failingSolver struct {
	IKSolver
	failOn int
	calls  int
}

func (s *failingSolver) Solve(ctx context.Context, target spatialmath.Pose, mode IKMode, seed []float64) ([]float64, error) {
	if s.calls == s.failOn {
		s.calls++
		return nil, ErrUnreachable
	}
	s.calls++
	return s.IKSolver.Solve(ctx, target, mode, seed)
}
