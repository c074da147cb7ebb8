package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/screenpack/screenpack/capture"
	"github.com/screenpack/screenpack/squeeze"
)

// AssistedListener receives the events of an Assisted connection. The
// methods are called on the receiving goroutine and must not block.
type AssistedListener interface {
	OnCaptureConfiguration(cfg capture.Config)
	OnCompressorConfiguration(cfg squeeze.Config)

	// OnIOError is called once when the connection fails. It is not
	// called after Close.
	OnIOError(err error)
}

// Assisted is the captured side of the connection: it dials the
// assistant, sends captures and the mouse position, and receives
// configurations.
type Assisted struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners []AssistedListener
	conn      net.Conn
	id        uuid.UUID

	queue  chan Message
	mouse  chan MouseLocation
	closed chan struct{}
	done   sync.WaitGroup

	closeOnce sync.Once
	errOnce   sync.Once
	written   int64
}

// NewAssisted returns an unconnected Assisted. queueDepth bounds the
// messages waiting to be written; SendCapture blocks while the queue is
// full. A nil logger discards log output.
func NewAssisted(queueDepth int, logger *slog.Logger) *Assisted {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queueDepth <= 0 {
		queueDepth = DefaultConfig().SendQueueDepth
	}
	return &Assisted{
		logger: logger,
		queue:  make(chan Message, queueDepth),
		mouse:  make(chan MouseLocation, 1),
		closed: make(chan struct{}),
	}
}

// AddListener registers l. Listeners must be added before Connect.
func (a *Assisted) AddListener(l AssistedListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

func (a *Assisted) snapshotListeners() []AssistedListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AssistedListener(nil), a.listeners...)
}

// Connect dials the assistant at addr and starts the sending and receiving
// goroutines.
func (a *Assisted) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		conn.Close()
		return ErrAlreadyStarted
	}
	a.conn = conn
	a.id = uuid.New()
	a.logger = a.logger.With("connection", a.id.String(), "remote", addr)
	a.mu.Unlock()
	a.logger.Info("connected")

	a.done.Add(2)
	go a.send(conn)
	go a.receive(conn)
	return nil
}

// SendCapture queues c, waiting for room in the queue. Captures are never
// dropped: the receiver expects every id.
func (a *Assisted) SendCapture(ctx context.Context, c *squeeze.Capture) error {
	m, err := Encode(c)
	if err != nil {
		return err
	}
	select {
	case a.queue <- m:
		return nil
	case <-a.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMouseLocation records the pointer position. Only the latest position
// waiting to be sent is kept.
func (a *Assisted) SendMouseLocation(x, y int) {
	l := MouseLocation{X: x, Y: y}
	for {
		select {
		case a.mouse <- l:
			return
		default:
		}
		select {
		case <-a.mouse:
		default:
		}
	}
}

// SendByteCount queues a byte count report. It never blocks.
func (a *Assisted) SendByteCount(n int64) error {
	m, err := Encode(ByteCount{Count: n})
	if err != nil {
		return err
	}
	select {
	case a.queue <- m:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// BytesWritten returns how many bytes have been written to the connection.
func (a *Assisted) BytesWritten() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// Close closes the connection and waits for the goroutines.
func (a *Assisted) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	a.done.Wait()
	return err
}

// Done returns a channel closed once the connection is closed, by Close
// or by an error.
func (a *Assisted) Done() <-chan struct{} {
	return a.closed
}

func (a *Assisted) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// fail reports err once, unless the connection was closed on purpose,
// and closes the connection.
func (a *Assisted) fail(err error) {
	if a.isClosed() {
		return
	}
	a.errOnce.Do(func() {
		a.logger.Warn("connection failed", "error", err)
		for _, l := range a.snapshotListeners() {
			l.OnIOError(err)
		}
	})
	a.closeOnce.Do(func() {
		close(a.closed)
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		conn.Close()
	})
}

func (a *Assisted) send(conn net.Conn) {
	defer a.done.Done()
	w := bufio.NewWriter(conn)
	write := func(m Message) bool {
		err := WriteMessage(w, m)
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			a.fail(fmt.Errorf("send %v: %w", m.Type, err))
			return false
		}
		a.mu.Lock()
		a.written += int64(messageHeaderLength + len(m.Payload))
		a.mu.Unlock()
		return true
	}
	for {
		select {
		case <-a.closed:
			return
		case m := <-a.queue:
			if !write(m) {
				return
			}
		case l := <-a.mouse:
			m, err := Encode(l)
			if err != nil {
				a.fail(err)
				return
			}
			if !write(m) {
				return
			}
		}
	}
}

func (a *Assisted) receive(conn net.Conn) {
	defer a.done.Done()
	r := bufio.NewReader(conn)
	for {
		m, err := ReadMessage(r)
		if err != nil {
			a.fail(err)
			return
		}
		v, err := Decode(m)
		if err != nil {
			a.logger.Debug("undecodable message", "type", m.Type, "payload", m.Diagnostic())
			a.fail(err)
			return
		}
		switch v := v.(type) {
		case capture.Config:
			for _, l := range a.snapshotListeners() {
				l.OnCaptureConfiguration(v)
			}
		case squeeze.Config:
			for _, l := range a.snapshotListeners() {
				l.OnCompressorConfiguration(v)
			}
		default:
			a.fail(fmt.Errorf("%w: %v is not sent by the assistant", ErrUnknownMessage, m.Type))
			return
		}
	}
}
