package gateway

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/casedesk/internal/observability"
)

// TextHandlerFailed is sent when a handler panics.
const TextHandlerFailed = "❌ Something went wrong while handling your request. Please try again."

// DeliverFunc sends a reply produced for ev.
type DeliverFunc func(ev Event, r Reply)

// Dispatcher runs one worker goroutine per user. A user's events are
// handled strictly in arrival order, one at a time; different users never
// wait on each other. A worker exits after IdleTimeout without events.
type Dispatcher struct {
	handler Handler
	deliver DeliverFunc
	idle    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	pending []Event
	wake    chan struct{}
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Handler     Handler
	Deliver     DeliverFunc
	IdleTimeout time.Duration // default 5m
}

// NewDispatcher creates a Dispatcher. Call Close (or Run) to stop it.
func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.Deliver == nil {
		opts.Deliver = func(Event, Reply) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: opts.Handler,
		deliver: opts.Deliver,
		idle:    opts.IdleTimeout,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Submit queues ev behind the user's earlier events. It never blocks.
func (d *Dispatcher) Submit(ev Event) {
	if ev.TaskID == "" {
		ev.TaskID = uuid.NewString()
	}

	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		log.Printf("gateway: dispatcher closed, dropping event from %s", ev.UserID)
		return
	}
	w, ok := d.workers[ev.UserID]
	if !ok {
		w = &worker{wake: make(chan struct{}, 1)}
		d.workers[ev.UserID] = w
		d.wg.Add(1)
		go d.run(ev.UserID, w)
	}
	w.pending = append(w.pending, ev)
	d.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Workers reports the number of live user workers.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

func (d *Dispatcher) run(user string, w *worker) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		d.mu.Lock()
		if len(w.pending) > 0 && d.ctx.Err() == nil {
			ev := w.pending[0]
			w.pending = w.pending[1:]
			d.mu.Unlock()

			d.handle(ev)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
			continue
		}
		d.mu.Unlock()

		select {
		case <-w.wake:
		case <-timer.C:
			d.mu.Lock()
			if len(w.pending) == 0 {
				delete(d.workers, user)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		case <-d.ctx.Done():
			d.mu.Lock()
			delete(d.workers, user)
			d.mu.Unlock()
			return
		}
	}
}

func (d *Dispatcher) handle(ev Event) {
	done := observability.Begin(ev.Kind.String() + " from " + ev.UserID)
	defer done()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("gateway: handler panic for %s (task %s): %v\n%s", ev.UserID, ev.TaskID, r, debug.Stack())
			d.deliver(ev, Reply{Text: TextHandlerFailed})
		}
	}()

	ctx := observability.WithTaskID(d.ctx, ev.TaskID)
	d.handler.Handle(ctx, ev, func(r Reply) { d.deliver(ev, r) })
}

// Run blocks until ctx is cancelled, then closes the dispatcher.
func (d *Dispatcher) Run(ctx context.Context) error {
	<-ctx.Done()
	d.Close()
	return nil
}

// Close stops accepting events, cancels in-flight handlers and waits for
// every worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}
