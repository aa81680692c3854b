package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// UDPConfig contains configuration options for the UDP listener
type UDPConfig struct {
	Address string
	RcvBuf  int
	Logger  *slog.Logger
}

// UDPListener receives detector frames as datagrams. A datagram may carry
// several newline-separated frames.
type UDPListener struct {
	cfg    UDPConfig
	d      Dispatcher
	logger *slog.Logger

	mu    sync.Mutex
	conn  *net.UDPConn
	ready chan struct{}
}

// NewUDPListener creates a new UDP listener with the provided configuration
func NewUDPListener(cfg UDPConfig, d Dispatcher) *UDPListener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPListener{
		cfg:    cfg,
		d:      d,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start listens until ctx is done.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			l.logger.Warn("failed to set UDP receive buffer", "size", l.cfg.RcvBuf, "error", err)
		}
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	close(l.ready)

	l.logger.Info("UDP listener started", "address", conn.LocalAddr().String())

	buffer := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("UDP listener stopping")
			return ctx.Err()
		default:
		}

		// Set read deadline to allow checking context cancellation
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("UDP read error", "error", err)
			continue
		}

		l.handlePacket(buffer[:n], from)
	}
}

// Addr returns the bound address once the listener is ready, or nil.
func (l *UDPListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} {
	return l.ready
}

func (l *UDPListener) handlePacket(packet []byte, from *net.UDPAddr) {
	for _, line := range bytes.Split(packet, []byte("\n")) {
		if isBlank(line) {
			continue
		}
		if _, err := l.d.Dispatch(frameEvent(line)); err != nil {
			l.logger.Warn("failed to dispatch frame", "from", from.String(), "error", err)
		}
	}
}
