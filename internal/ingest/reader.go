package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// LineReader dispatches one frame per non-blank input line.
type LineReader struct {
	d      Dispatcher
	clock  clock.Clock
	pace   time.Duration
	logger *slog.Logger
}

// ReaderOption configures a LineReader.
type ReaderOption func(*LineReader)

// WithRate paces replay to the given number of frames per second.
// Zero or less reads as fast as the dispatcher accepts.
func WithRate(fps float64) ReaderOption {
	return func(r *LineReader) {
		if fps > 0 {
			r.pace = time.Duration(float64(time.Second) / fps)
		}
	}
}

// WithReaderClock replaces the clock used for pacing.
func WithReaderClock(c clock.Clock) ReaderOption {
	return func(r *LineReader) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithReaderLogger sets the logger.
func WithReaderLogger(l *slog.Logger) ReaderOption {
	return func(r *LineReader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLineReader creates a LineReader dispatching to d.
func NewLineReader(d Dispatcher, opts ...ReaderOption) *LineReader {
	r := &LineReader{
		d:      d,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadFrom dispatches lines from src until EOF or ctx is done. It returns the
// number of lines dispatched. Dispatch errors are logged and skipped.
//
// A src that blocks without ever producing data (an idle stdin) does not delay
// cancellation; the blocked read is abandoned and its goroutine exits with the
// next line or when src is closed.
func (r *LineReader) ReadFrom(ctx context.Context, src io.Reader) (int, error) {
	lines, errc, stop := scanLines(src)
	defer stop()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		var line []byte
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case l, ok := <-lines:
			if !ok {
				if err := <-errc; err != nil {
					return n, fmt.Errorf("reading frames: %w", err)
				}
				return n, nil
			}
			line = l
		}
		if isBlank(line) {
			continue
		}

		if r.pace > 0 && n > 0 {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-r.clock.After(r.pace):
			}
		}

		if _, err := r.d.Dispatch(frameEvent(line)); err != nil {
			r.logger.Warn("failed to dispatch frame", "line", n+1, "error", err)
			continue
		}
		n++
	}
}

// scanLines reads src on its own goroutine. lines is closed after the final
// error, possibly nil, has been sent on errc. stop releases the goroutine.
func scanLines(src io.Reader) (lines <-chan []byte, errc <-chan error, stop func()) {
	out := make(chan []byte)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(src)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case out <- bytes.Clone(scanner.Bytes()):
			case <-done:
				return
			}
		}
		errs <- scanner.Err()
		close(out)
	}()

	return out, errs, func() { close(done) }
}
