package integrations

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/Dicklesworthstone/cmdgate/internal/obs"
)

// DispatcherOptions tunes delivery.
type DispatcherOptions struct {
	// QueueSize bounds pending deliveries; extra messages are dropped.
	QueueSize int
	// RatePerSecond limits deliveries across all transports. Zero is unlimited.
	RatePerSecond float64
	// Burst is the limiter burst size.
	Burst int
	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration
	Logger      *log.Logger
	Metrics     *obs.Metrics
}

type delivery struct {
	to  Recipient
	msg Message
}

// Dispatcher delivers notifications on a background worker so callers never
// wait on a transport. Failures are logged and dropped.
type Dispatcher struct {
	transports []Transport
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *log.Logger
	metrics    *obs.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan delivery
	done   chan struct{}
}

// NewDispatcher starts a dispatcher over transports.
func NewDispatcher(transports []Transport, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	d := &Dispatcher{
		transports: transports,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		timeout:    opts.SendTimeout,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		queue:      make(chan delivery, opts.QueueSize),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules a message without blocking. It returns false when the
// dispatcher is closed or the queue is full.
func (d *Dispatcher) Enqueue(to Recipient, msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- delivery{to: to, msg: msg}:
		return true
	default:
		d.logger.Warn("notification queue full, dropping", "to", to.Username, "subject", msg.Subject)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job delivery) {
	for _, t := range d.transports {
		if !t.Accepts(job.to) {
			continue
		}
		if err := d.limiter.Wait(context.Background()); err != nil {
			d.logger.Warn("notification rate limiter", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := t.Notify(ctx, job.to, job.msg)
		cancel()

		d.metrics.Notification(t.Name(), err)
		if err != nil {
			d.logger.Warn("notification failed", "channel", t.Name(), "to", job.to.Username, "error", err)
			continue
		}
		d.logger.Debug("notification sent", "channel", t.Name(), "to", job.to.Username)
	}
}
