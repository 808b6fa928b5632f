package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
)

// ErrQueueFull is returned by Enqueue when the dispatch queue is full.
var ErrQueueFull = errors.New("notify: dispatch queue full")

// DispatcherOptions configures the Dispatcher behavior.
type DispatcherOptions struct {
	QueueSize      int           // default 64
	UpdateInterval time.Duration // min gap between update deliveries per incident; default 1m, <0 disables coalescing
	SendTimeout    time.Duration // per sender call; default 30s
	FlushInterval  time.Duration // how often held updates are re-checked; default 1s
	DrainTimeout   time.Duration // total time allowed for delivery at shutdown; default 30s
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		QueueSize:      64,
		UpdateInterval: time.Minute,
		SendTimeout:    30 * time.Second,
		FlushInterval:  time.Second,
		DrainTimeout:   30 * time.Second,
	}
}

func (o DispatcherOptions) withDefaults() DispatcherOptions {
	d := DefaultDispatcherOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.UpdateInterval == 0 {
		o.UpdateInterval = d.UpdateInterval
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = d.SendTimeout
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = d.FlushInterval
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = d.DrainTimeout
	}
	return o
}

// DispatchStats holds dispatcher counters.
type DispatchStats struct {
	Enqueued  int64
	Dropped   int64 // rejected because the queue was full
	Coalesced int64 // updates merged into a held update
	Delivered int64 // successful sender calls
	Failed    int64 // failed sender calls
	Held      int   // updates waiting for their incident's rate limit
}

// clusterLimiter tracks the update rate of one incident.
type clusterLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Dispatcher queues events and delivers them to every sender.
type Dispatcher struct {
	opts    DispatcherOptions
	senders []Sender
	queue   chan correlation.Event

	// Worker-owned state
	limiters map[int64]*clusterLimiter
	pending  map[int64]correlation.Event

	held      atomic.Int64
	enqueued  atomic.Int64
	dropped   atomic.Int64
	coalesced atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	onError func(sender string, ev correlation.Event, err error)
}

// NewDispatcher creates a dispatcher for the given senders.
func NewDispatcher(opts DispatcherOptions, senders ...Sender) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		opts:     opts,
		senders:  senders,
		queue:    make(chan correlation.Event, opts.QueueSize),
		limiters: make(map[int64]*clusterLimiter),
		pending:  make(map[int64]correlation.Event),
	}
}

// OnError registers a callback for failed deliveries.
func (d *Dispatcher) OnError(fn func(sender string, ev correlation.Event, err error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

// Senders returns the configured sender names.
func (d *Dispatcher) Senders() []string {
	names := make([]string, len(d.senders))
	for i, s := range d.senders {
		names[i] = s.Name()
	}
	return names
}

// Enqueue queues an event for delivery without blocking. It returns
// ErrQueueFull when the queue is full; the event is dropped.
func (d *Dispatcher) Enqueue(ev correlation.Event) error {
	select {
	case d.queue <- ev:
		d.enqueued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		logging.Warn("notify: queue full, dropping event",
			"cluster", ev.Incident.ClusterID, "kind", ev.Kind)
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is done, then drains the queue and
// flushes held updates before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case ev := <-d.queue:
			d.handle(ctx, ev, time.Now())
		case now := <-ticker.C:
			d.flush(ctx, now, false)
			d.evictLimiters(now)
		}
	}
}

// drain delivers everything still queued or held, ignoring rate limits.
// All of it shares one DrainTimeout deadline; once that passes, senders that
// honour their context fail fast while local sinks still record.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.DrainTimeout)
	defer cancel()
	defer func() {
		if ctx.Err() != nil {
			logging.Warn("notify: drain deadline passed", "timeout", d.opts.DrainTimeout)
		}
	}()

	for {
		select {
		case ev := <-d.queue:
			d.handle(ctx, ev, time.Now())
		default:
			d.flush(ctx, time.Now(), true)
			return
		}
	}
}

// handle applies update coalescing and delivers if allowed.
func (d *Dispatcher) handle(ctx context.Context, ev correlation.Event, now time.Time) {
	if d.opts.UpdateInterval < 0 {
		d.deliver(ctx, ev)
		return
	}

	id := ev.Incident.ClusterID
	cl := d.limiter(id, now)

	if ev.Kind == correlation.KindNew {
		// A new incident takes the first token so a burst of immediate
		// updates is held and merged.
		cl.limiter.AllowN(now, 1)
		d.deliver(ctx, ev)
		return
	}

	if held, ok := d.pending[id]; ok {
		d.pending[id] = merge(held, ev)
		d.coalesced.Add(1)
		return
	}
	if cl.limiter.AllowN(now, 1) {
		d.deliver(ctx, ev)
		return
	}
	d.pending[id] = ev
	d.held.Store(int64(len(d.pending)))
}

// flush delivers held updates whose incident may send again.
func (d *Dispatcher) flush(ctx context.Context, now time.Time, force bool) {
	for id, ev := range d.pending {
		cl := d.limiter(id, now)
		if !force && !cl.limiter.AllowN(now, 1) {
			continue
		}
		delete(d.pending, id)
		d.deliver(ctx, ev)
	}
	d.held.Store(int64(len(d.pending)))
}

func (d *Dispatcher) limiter(id int64, now time.Time) *clusterLimiter {
	cl, ok := d.limiters[id]
	if !ok {
		cl = &clusterLimiter{limiter: rate.NewLimiter(rate.Every(d.opts.UpdateInterval), 1)}
		d.limiters[id] = cl
	}
	cl.lastAccess = now
	return cl
}

// evictLimiters forgets limiters of incidents idle for a long time.
func (d *Dispatcher) evictLimiters(now time.Time) {
	maxAge := 10 * d.opts.UpdateInterval
	if maxAge < time.Hour {
		maxAge = time.Hour
	}
	for id, cl := range d.limiters {
		if _, held := d.pending[id]; held {
			continue
		}
		if now.Sub(cl.lastAccess) > maxAge {
			delete(d.limiters, id)
		}
	}
}

// merge folds a newer update into a held one. The newer snapshot wins; the
// reports each update introduced are concatenated.
func merge(held, newer correlation.Event) correlation.Event {
	merged := newer
	reports := make([]model.RawReport, 0, len(held.Incident.NewReports)+len(newer.Incident.NewReports))
	reports = append(reports, held.Incident.NewReports...)
	merged.Incident.NewReports = append(reports, newer.Incident.NewReports...)
	return merged
}

// deliver sends ev to every sender. Errors are logged and counted.
func (d *Dispatcher) deliver(ctx context.Context, ev correlation.Event) {
	for _, s := range d.senders {
		sctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		err := s.Send(sctx, ev)
		cancel()
		if err != nil {
			d.failed.Add(1)
			logging.Error("notify: send failed",
				"sender", s.Name(), "cluster", ev.Incident.ClusterID, "kind", ev.Kind, "error", err)
			d.mu.Lock()
			fn := d.onError
			d.mu.Unlock()
			if fn != nil {
				fn(s.Name(), ev, err)
			}
			continue
		}
		d.delivered.Add(1)
	}
}

// Stats returns delivery counters. Safe to call from any goroutine.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Enqueued:  d.enqueued.Load(),
		Dropped:   d.dropped.Load(),
		Coalesced: d.coalesced.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Held:      int(d.held.Load()),
	}
}
