package txdict

import (
	"cmp"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber receives the changes committed by one flush.
type Subscriber func(Batch)

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithFilter delivers only the changes for which keep returns true. Batches
// left empty are not delivered.
func WithFilter(keep func(Change) bool) SubscribeOption {
	return func(s *Subscription) {
		s.filters = append(s.filters, keep)
	}
}

// WithAsync delivers batches on a dedicated goroutine through an unbounded
// FIFO queue instead of in the flushing goroutine. Order is preserved.
func WithAsync() SubscribeOption {
	return func(s *Subscription) {
		s.async = true
	}
}

func withDictionary(name string) SubscribeOption {
	return WithFilter(func(c Change) bool { return c.Dictionary == name })
}

// Subscription is a registered subscriber.
type Subscription struct {
	id      int64
	n       *Notifier
	fn      Subscriber
	filters []func(Change) bool
	async   bool
	queue   *batchQueue
	done    chan struct{}
	active  atomic.Bool
}

// Unsubscribe stops delivery. Batches already queued for an async
// subscription are dropped. It is idempotent.
func (s *Subscription) Unsubscribe() {
	if !s.active.Swap(false) {
		return
	}
	s.n.remove(s.id)
	if s.queue != nil {
		s.queue.Close()
	}
}

func (s *Subscription) filter(b Batch) (Batch, bool) {
	if len(s.filters) == 0 {
		return b, len(b.Changes) > 0
	}
	out := Batch{Seq: b.Seq}
	for _, c := range b.Changes {
		keep := true
		for _, f := range s.filters {
			if !f(c) {
				keep = false
				break
			}
		}
		if keep {
			out.Changes = append(out.Changes, c)
		}
	}
	return out, len(out.Changes) > 0
}

// Notifier fans committed batches out to subscribers. Delivery happens
// strictly after commit, so failed flushes never notify.
type Notifier struct {
	mu      sync.Mutex
	subs    map[int64]*Subscription
	nextID  int64
	logger  *slog.Logger
	metrics *metrics
	wg      sync.WaitGroup
	closed  bool
}

func newNotifier(logger *slog.Logger, m *metrics) *Notifier {
	return &Notifier{
		subs:    make(map[int64]*Subscription),
		logger:  logger,
		metrics: m,
	}
}

// Subscribe registers fn. Subscribers registered before a flush begins
// receive its batch; later ones may not.
func (n *Notifier) Subscribe(fn Subscriber, opts ...SubscribeOption) *Subscription {
	s := &Subscription{n: n, fn: fn}
	for _, opt := range opts {
		opt(s)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s.id = n.nextID
	if n.closed {
		return s
	}
	s.active.Store(true)
	n.subs[s.id] = s

	if s.async {
		s.queue = newBatchQueue()
		s.done = make(chan struct{})
		n.wg.Add(1)
		go n.drain(s)
	}
	return s
}

func (n *Notifier) remove(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, id)
}

// snapshot returns the subscribers registered right now, in registration order.
func (n *Notifier) snapshot() []*Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// publish delivers b to subs. Subscribers that unsubscribed since the
// snapshot are skipped.
func (n *Notifier) publish(subs []*Subscription, b Batch) {
	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		fb, ok := s.filter(b)
		if !ok {
			continue
		}
		if s.async {
			s.queue.Enqueue(fb)
			continue
		}
		n.deliver(s, fb)
	}
}

func (n *Notifier) deliver(s *Subscription, b Batch) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.panics.Inc()
			n.logger.Error("subscriber panicked",
				"subscription", s.id,
				"batch", b.Seq,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	s.fn(b)
	n.metrics.delivered.Inc()
}

func (n *Notifier) drain(s *Subscription) {
	defer n.wg.Done()
	defer close(s.done)
	for {
		b, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		if !s.active.Load() {
			return
		}
		n.deliver(s, b)
	}
}

// Close stops accepting subscriptions and waits until async subscribers
// have drained the batches already queued for them.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	subs := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		if s.queue != nil {
			s.queue.Close()
		}
	}
	n.wg.Wait()
}

// batchQueue is an unbounded FIFO of batches for one async subscriber.
type batchQueue struct {
	mu      sync.Mutex
	batches []Batch
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newBatchQueue() *batchQueue {
	return &batchQueue{signal: make(chan struct{}, 1)}
}

// Enqueue adds b to the back of the queue.
// Returns false if the queue is closed.
func (q *batchQueue) Enqueue(b Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.batches = append(q.batches, b)

	// Non-blocking; the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front batch without blocking.
func (q *batchQueue) TryDequeue() (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return Batch{}, false
	}
	b := q.batches[0]
	q.batches[0] = Batch{}
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// Dequeue blocks until a batch is available. It returns false once the
// queue is closed and empty.
func (q *batchQueue) Dequeue() (Batch, bool) {
	for {
		if b, ok := q.TryDequeue(); ok {
			return b, true
		}
		q.mu.Lock()
		if q.closed && len(q.batches) == 0 {
			q.mu.Unlock()
			return Batch{}, false
		}
		q.mu.Unlock()
		<-q.signal
	}
}

// Len returns the number of queued batches.
func (q *batchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Close wakes the consumer; batches already queued are still dequeued.
func (q *batchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
