package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/markerrelay/relay/internal/dispatcher"

type instruments struct {
	processedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	failedCounter    metric.Int64Counter
}

// newInstruments registers the dispatcher metrics on the global meter.
// depths is polled for the queue size gauge.
func newInstruments(depths func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	in := &instruments{}

	queueSize, err := m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	if _, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range depths() {
			o.ObserveInt64(queueSize, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, queueSize); err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if in.processedCounter, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Total queued events handled")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if in.droppedCounter, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.failedCounter, err = m.Int64Counter("dispatcher.events.failed",
		metric.WithDescription("Total queued events whose handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return in, nil
}

func (in *instruments) handled(command string, err error) {
	attrs := metric.WithAttributes(attribute.String("command", command))
	if err != nil {
		in.failedCounter.Add(context.Background(), 1, attrs)
	}
	in.processedCounter.Add(context.Background(), 1, attrs)
}

func (in *instruments) dropped(command string) {
	in.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}
