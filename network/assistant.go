package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/squeeze"
)

var (
	// ErrSendQueueFull is returned when a connection's send queue has no
	// room for another message.
	ErrSendQueueFull = errors.New("network: send queue full")

	// ErrNotConnected is returned by sends while no peer is connected.
	ErrNotConnected = errors.New("network: not connected")

	// ErrAlreadyStarted is returned by Start while the assistant is
	// already listening or connected.
	ErrAlreadyStarted = errors.New("network: already started")
)

// State is the lifecycle state of an Assistant.
type State uint8

const (
	Created State = iota
	Ready
	Starting
	Accepting
	Connected
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Starting:
		return "starting"
	case Accepting:
		return "accepting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// AssistantListener receives the events of an Assistant. Every method is
// called on the goroutine that reads from the network and must return
// quickly: anything that blocks (sending a message to the peer, disk I/O)
// has to be handed to another goroutine.
type AssistantListener interface {
	// OnReady is called when the assistant can be started.
	OnReady()

	// OnHTTPStarting is called when a session starts, before the port is
	// bound.
	OnHTTPStarting(port int)

	OnStarting(port int)
	OnAccepting(port int)

	// OnAccepted lets the listener reject a connection before any data
	// is read from it. The connection is kept only if every listener
	// returns true.
	OnAccepted(conn net.Conn) bool

	// OnConnected is called once the connection is accepted. It is the
	// place to send the current configurations to the peer.
	OnConnected(conn net.Conn)

	// OnByteReceived is called with the size of every read.
	OnByteReceived(n int)

	OnMouseLocation(x, y int)

	// OnByteCount is called with the byte count reported by the peer.
	OnByteCount(n int64)

	// OnIOError is called when the connection fails. The connection is
	// closed and the assistant is ready to be started again.
	OnIOError(err error)
}

// A CaptureSink takes the captures received from the peer. Submit must not
// block; an error is fatal for the connection.
type CaptureSink interface {
	Submit(c *squeeze.Capture) error
}

// An Assistant is the viewing side of the connection: it listens for the
// assisted side, receives its captures, and sends it configurations.
type Assistant struct {
	logger *slog.Logger
	sink   CaptureSink

	mu        sync.Mutex
	cfg       Config
	state     State
	listeners []AssistantListener
	listener  net.Listener
	conn      *connection
	done      chan struct{}
}

// connection is one accepted peer and the goroutine draining its send
// queue.
type connection struct {
	id     uuid.UUID
	conn   net.Conn
	logger *slog.Logger
	queue  chan Message

	closeOnce sync.Once
	closed    chan struct{}
	sent      chan struct{} // closed when the sender exits

	mu  sync.Mutex
	err error // first send error
}

// NewAssistant returns an assistant handing received captures to sink. A
// nil logger discards log output.
func NewAssistant(sink CaptureSink, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assistant{
		logger: logger,
		sink:   sink,
		cfg:    DefaultConfig(),
	}
}

// AddListener registers l for every following event.
func (a *Assistant) AddListener(l AssistantListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *Assistant) snapshotListeners() []AssistantListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AssistantListener(nil), a.listeners...)
}

// State returns the lifecycle state.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Assistant) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Configure validates cfg and applies it to the next Start. The assistant
// becomes ready.
func (a *Assistant) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = cfg
	if a.state == Created {
		a.state = Ready
	}
	a.mu.Unlock()
	for _, l := range a.snapshotListeners() {
		l.OnReady()
	}
	return nil
}

// Addr returns the address the assistant listens on, or nil.
func (a *Assistant) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Start binds the configured port and waits for the assisted side in the
// background. It returns once the port is bound.
func (a *Assistant) Start() error {
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	cfg := a.cfg
	a.mu.Unlock()

	listeners := a.snapshotListeners()
	for _, l := range listeners {
		l.OnHTTPStarting(cfg.Port)
	}
	a.setState(Starting)
	for _, l := range listeners {
		l.OnStarting(cfg.Port)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		err = fmt.Errorf("listen on port %d: %w", cfg.Port, err)
		a.setState(Ready)
		for _, l := range listeners {
			l.OnIOError(err)
		}
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port

	done := make(chan struct{})
	a.mu.Lock()
	a.listener = ln
	a.done = done
	a.state = Accepting
	a.mu.Unlock()
	a.logger.Info("accepting", "port", port)
	for _, l := range listeners {
		l.OnAccepting(port)
	}

	go a.serve(ln, cfg, done)
	return nil
}

// serve accepts one peer, then reads from it until the connection ends.
func (a *Assistant) serve(ln net.Listener, cfg Config, done chan struct{}) {
	defer func() {
		a.mu.Lock()
		a.listener = nil
		a.conn = nil
		a.done = nil
		if a.state != Closed {
			a.state = Ready
		}
		ready := a.state == Ready
		a.mu.Unlock()
		close(done)
		if ready {
			for _, l := range a.snapshotListeners() {
				l.OnReady()
			}
		}
	}()

	var conn net.Conn
	for {
		c, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.fireIOError(fmt.Errorf("accept: %w", err))
			}
			return
		}
		if a.accepted(c) {
			conn = c
			break
		}
		a.logger.Info("connection rejected", "remote", c.RemoteAddr())
		c.Close()
	}
	// One assisted peer per session.
	ln.Close()

	cn := &connection{
		id:     uuid.New(),
		conn:   conn,
		queue:  make(chan Message, cfg.SendQueueDepth),
		closed: make(chan struct{}),
		sent:   make(chan struct{}),
	}
	cn.logger = a.logger.With("connection", cn.id.String(), "remote", conn.RemoteAddr().String())
	a.mu.Lock()
	if a.state == Closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conn = cn
	a.state = Connected
	a.mu.Unlock()
	cn.logger.Info("connected")

	go cn.send()
	for _, l := range a.snapshotListeners() {
		l.OnConnected(conn)
	}

	a.setState(Streaming)
	err := a.receive(cn)
	cn.close()
	<-cn.sent
	if err == nil {
		err = cn.failure()
	}
	if err != nil {
		cn.logger.Warn("connection failed", "error", err)
		a.fireIOError(err)
	} else {
		cn.logger.Info("connection closed")
	}
}

func (a *Assistant) accepted(c net.Conn) bool {
	for _, l := range a.snapshotListeners() {
		if !l.OnAccepted(c) {
			return false
		}
	}
	return true
}

func (a *Assistant) fireIOError(err error) {
	for _, l := range a.snapshotListeners() {
		l.OnIOError(err)
	}
}

// receive reads messages until the connection fails. It returns nil when
// the connection was closed locally.
func (a *Assistant) receive(cn *connection) error {
	r := bufio.NewReader(&countingReader{
		r: cn.conn,
		onRead: func(n int) {
			for _, l := range a.snapshotListeners() {
				l.OnByteReceived(n)
			}
		},
	})
	for {
		m, err := ReadMessage(r)
		if err != nil {
			if cn.isClosed() {
				return nil
			}
			return err
		}
		v, err := Decode(m)
		if err != nil {
			cn.logger.Debug("undecodable message", "type", m.Type, "payload", m.Diagnostic())
			return err
		}
		switch v := v.(type) {
		case *squeeze.Capture:
			if a.sink != nil {
				if err := a.sink.Submit(v); err != nil {
					return fmt.Errorf("capture %d: %w", v.ID, err)
				}
			}
		case MouseLocation:
			for _, l := range a.snapshotListeners() {
				l.OnMouseLocation(v.X, v.Y)
			}
		case ByteCount:
			for _, l := range a.snapshotListeners() {
				l.OnByteCount(v.Count)
			}
		default:
			return fmt.Errorf("%w: %v is not sent by the assisted side", ErrUnknownMessage, m.Type)
		}
	}
}

// SendCaptureConfiguration queues cfg for the peer. It never blocks.
func (a *Assistant) SendCaptureConfiguration(cfg capture.Config) error {
	return a.enqueue(cfg)
}

// SendCompressorConfiguration queues cfg for the peer. It never blocks.
func (a *Assistant) SendCompressorConfiguration(cfg squeeze.Config) error {
	return a.enqueue(cfg)
}

func (a *Assistant) enqueue(v any) error {
	m, err := Encode(v)
	if err != nil {
		return err
	}
	a.mu.Lock()
	cn := a.conn
	a.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	select {
	case <-cn.closed:
		return ErrNotConnected
	default:
	}
	select {
	case cn.queue <- m:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Disconnect closes the current connection, if any. The assistant goes
// back to ready.
func (a *Assistant) Disconnect() {
	a.mu.Lock()
	cn := a.conn
	a.mu.Unlock()
	if cn != nil {
		cn.close()
	}
}

// Stop closes the listener and the connection and waits for the
// background goroutines. Captures already handed to the sink are not
// waited for.
func (a *Assistant) Stop() {
	a.mu.Lock()
	a.state = Closed
	ln, cn, done := a.listener, a.conn, a.done
	a.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	if cn != nil {
		cn.close()
	}
	if done != nil {
		<-done
	}
}

func (cn *connection) close() {
	cn.closeOnce.Do(func() {
		close(cn.closed)
		cn.conn.Close()
	})
}

// fail records err and closes the connection.
func (cn *connection) fail(err error) {
	cn.mu.Lock()
	if cn.err == nil {
		cn.err = err
	}
	cn.mu.Unlock()
	cn.close()
}

func (cn *connection) failure() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.err
}

func (cn *connection) isClosed() bool {
	select {
	case <-cn.closed:
		return true
	default:
		return false
	}
}

// send drains the queue onto the connection. A write error fails the
// connection, which ends the receive loop.
func (cn *connection) send() {
	defer close(cn.sent)
	w := bufio.NewWriter(cn.conn)
	for {
		select {
		case <-cn.closed:
			return
		case m := <-cn.queue:
			err := WriteMessage(w, m)
			if err == nil {
				err = w.Flush()
			}
			if err != nil {
				cn.fail(fmt.Errorf("send %v: %w", m.Type, err))
				return
			}
		}
	}
}
