package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/migration"
)

const (
	defaultBufferSize  = 64
	defaultSendTimeout = 15 * time.Second
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBufferSize sets the number of pending events held before new ones are dropped.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithDeliveryMetrics records the outcome of each delivery.
func WithDeliveryMetrics(m DeliveryRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithCircuitBreaker overrides the per-channel breaker thresholds.
func WithCircuitBreaker(config CircuitBreakerConfig) DispatcherOption {
	return func(d *Dispatcher) { d.breakerConfig = config }
}

type route struct {
	sender  Sender
	breaker *CircuitBreaker
}

// Dispatcher is a migration.StageListener that delivers events on a
// background worker so a slow channel never delays a stage change.
type Dispatcher struct {
	routes        []route
	bufferSize    int
	sendTimeout   time.Duration
	breakerConfig CircuitBreakerConfig
	metrics       DeliveryRecorder
	logger        logger.Logger

	mu      sync.RWMutex // guards closed against sends on a closed channel
	closed  bool
	events  chan Event
	dropped atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

var _ migration.StageListener = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher for senders. Start must be called to deliver.
func NewDispatcher(senders []Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		bufferSize:    defaultBufferSize,
		sendTimeout:   defaultSendTimeout,
		breakerConfig: DefaultCircuitBreakerConfig(),
		logger:        GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, s := range senders {
		d.routes = append(d.routes, route{sender: s, breaker: NewCircuitBreaker(s.Name(), d.breakerConfig)})
	}
	d.events = make(chan Event, d.bufferSize)
	return d
}

// OnStageTransition queues the event. It never blocks; events are dropped
// when the buffer is full.
func (d *Dispatcher) OnStageTransition(_ context.Context, ev migration.TransitionEvent) {
	if len(d.routes) == 0 {
		return
	}
	event := EventFromTransition(ev)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification buffer full, dropping stage event",
			logger.Int64("migration_id", int64(event.MigrationID)),
			logger.String("to", event.To))
	}
}

// Start runs the delivery worker until Stop is called or ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.run(ctx)
		d.logger.Info("notification dispatcher started", logger.Int("channels", len(d.routes)))
	})
}

// Stop delivers the queued events and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// Dropped returns the number of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	for _, r := range d.routes {
		if !r.sender.Accepts(ev) {
			continue
		}

		start := time.Now()
		err := r.breaker.Call(ctx, func(ctx context.Context) error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			return r.sender.Send(sendCtx, ev)
		})
		if d.metrics != nil {
			d.metrics.RecordDelivery(r.sender.Name(), time.Since(start), err)
		}
		if err != nil {
			d.logger.Error("stage notification failed",
				logger.String("channel", r.sender.Name()),
				logger.String("to", ev.To),
				logger.Error(err))
		}
	}
}
