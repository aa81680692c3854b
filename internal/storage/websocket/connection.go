package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	ws "github.com/gorilla/websocket"

	"github.com/markerrelay/relay/pkg/streaming"
)

const (
	outboxSize     = 10_000
	ackBufferSize  = 16
	redialAttempts = 10
	redialCeiling  = 30 * time.Second
	writeWait      = 10 * time.Second
	ackTimeout     = 10 * time.Second
)

var errStopped = errors.New("stream stopped")

// stream is a single outbound WebSocket. One supervisor goroutine owns the
// socket: it writes the outbox, and when the socket breaks it redials with
// backoff and replays the session start before resuming.
type stream struct {
	target string
	logger *slog.Logger
	clock  clock.Clock

	outbox chan []byte
	acks   chan streaming.AckMessage
	quit   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	sock    *ws.Conn
	replay  []byte
	started bool
	stopped bool

	dropped atomic.Uint64
}

func newStream(logger *slog.Logger) *stream {
	return &stream{
		logger: logger,
		clock:  clock.New(),
		outbox: make(chan []byte, outboxSize),
		acks:   make(chan streaming.AckMessage, ackBufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// open dials the server once and hands the socket to the supervisor.
func (s *stream) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}
	s.target = u.String()

	sock, err := s.connect()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go s.supervise(sock)
	return nil
}

// setReplay stores the message re-sent first on every reconnect; nil clears it.
func (s *stream) setReplay(data []byte) {
	s.mu.Lock()
	s.replay = data
	s.mu.Unlock()
}

// enqueue hands data to the supervisor, dropping it when the outbox is full.
func (s *stream) enqueue(data []byte) {
	select {
	case s.outbox <- data:
	default:
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn("WebSocket outbox full, dropping message", "dropped", n)
		}
	}
}

// request enqueues data and waits for the server to ack ackFor.
func (s *stream) request(data []byte, ackFor string, timeout time.Duration) error {
	s.enqueue(data)

	timer := s.clock.Timer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.quit:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case ack := <-s.acks:
			if ack.For == ackFor {
				return nil
			}
		}
	}
}

// shutdown sends a close frame, stops the supervisor and closes the socket.
func (s *stream) shutdown() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.quit)
	sock, started := s.sock, s.started
	s.mu.Unlock()

	if sock != nil {
		_ = sock.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	if started {
		<-s.done
	}
	if sock != nil {
		return sock.Close()
	}
	return nil
}

func (s *stream) connect() (*ws.Conn, error) {
	sock, _, err := ws.DefaultDialer.Dial(s.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return sock, nil
}

func (s *stream) supervise(sock *ws.Conn) {
	defer close(s.done)
	for sock != nil {
		s.mu.Lock()
		s.sock = sock
		s.mu.Unlock()

		err := s.serve(sock)
		if errors.Is(err, errStopped) {
			return
		}
		s.logger.Warn("WebSocket connection lost", "error", err)

		s.mu.Lock()
		s.sock = nil
		s.mu.Unlock()
		_ = sock.Close()

		sock = s.redial()
	}
}

// serve pumps the outbox onto sock until it fails or the stream stops.
func (s *stream) serve(sock *ws.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- s.readAcks(sock) }()

	for {
		select {
		case <-s.quit:
			return errStopped
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case data := <-s.outbox:
			if err := write(sock, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (s *stream) readAcks(sock *ws.Conn) error {
	for {
		_, msg, err := sock.ReadMessage()
		if err != nil {
			return err
		}
		var ack streaming.AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != "ack" {
			s.logger.Debug("Ignoring non-ack message", "raw", string(msg))
			continue
		}
		select {
		case s.acks <- ack:
		default:
			s.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial retries with doubling delays. It returns nil when the stream stops
// or every attempt failed.
func (s *stream) redial() *ws.Conn {
	delay := time.Second
	for attempt := 1; attempt <= redialAttempts; attempt++ {
		s.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "delay", delay)
		select {
		case <-s.quit:
			return nil
		case <-s.clock.After(delay):
		}

		sock, err := s.connect()
		if err != nil {
			s.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, redialCeiling)
			continue
		}

		s.mu.Lock()
		replay := s.replay
		s.mu.Unlock()
		if replay != nil {
			if err := write(sock, replay); err != nil {
				s.logger.Warn("Failed to replay session start", "error", err)
				_ = sock.Close()
				continue
			}
		}
		s.logger.Info("WebSocket reconnected", "attempt", attempt)
		return sock
	}
	s.logger.Error("Giving up on WebSocket", "attempts", redialAttempts)
	return nil
}

func write(sock *ws.Conn, data []byte) error {
	if err := sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sock.WriteMessage(ws.TextMessage, data)
}
