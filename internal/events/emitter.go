package events

import (
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/logging"
)

const (
	// MaxQueueSize bounds the emitter's FIFO. On overflow the oldest event
	// is dropped so the stream stays live.
	MaxQueueSize = 10000

	// DrainBatchSize caps how many events one drain tick forwards.
	DrainBatchSize = 100
)

// Sink receives drained events, in FIFO order, from the drain goroutine.
type Sink func(Event)

// Subscriber is invoked inline at emit time. Panics are recovered so a bad
// subscriber cannot take down the emitter.
type Subscriber func(Event)

// Emitter is the sync-enqueue, async-drain bridge between the debate loop
// and the streaming layer. Enqueue is non-blocking and amortized O(1); the
// queue is a slice with a moving head compacted as batches drain.
type Emitter struct {
	mu       sync.Mutex
	queue    []Event
	head     int
	overflow int64
	loopID   string

	subscribers map[int]Subscriber
	nextSubID   int

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewEmitter creates an emitter whose events default to the given loop id.
func NewEmitter(loopID string) *Emitter {
	return &Emitter{
		queue:       make([]Event, 0, 256),
		loopID:      loopID,
		subscribers: make(map[int]Subscriber),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// LoopID returns the emitter's default loop id.
func (e *Emitter) LoopID() string { return e.loopID }

// Emit enqueues an event, stamping timestamp and default loop id when
// missing. On a full queue the oldest event is dropped and counted.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.LoopID == "" {
		ev.LoopID = e.loopID
	}

	e.mu.Lock()
	if len(e.queue)-e.head >= MaxQueueSize {
		e.queue[e.head] = Event{} // release references
		e.head++
		e.overflow++
	}
	e.queue = append(e.queue, ev)
	e.compactLocked()

	subs := make([]Subscriber, 0, len(e.subscribers))
	for _, s := range e.subscribers {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		e.invoke(s, ev)
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// compactLocked reclaims the drained prefix once it dominates the slice.
func (e *Emitter) compactLocked() {
	if e.head == 0 {
		return
	}
	if e.head == len(e.queue) {
		e.queue = e.queue[:0]
		e.head = 0
		return
	}
	if e.head >= 4096 && e.head*2 >= len(e.queue) {
		n := copy(e.queue, e.queue[e.head:])
		e.queue = e.queue[:n]
		e.head = 0
	}
}

func (e *Emitter) invoke(s Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("event subscriber panicked", map[string]interface{}{
				"kind":  string(ev.Kind),
				"panic": r,
			})
		}
	}()
	s(ev)
}

// Subscribe registers an inline subscriber and returns its handle.
func (e *Emitter) Subscribe(s Subscriber) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSubID++
	id := e.nextSubID
	e.subscribers[id] = s
	return id
}

// Unsubscribe removes a subscriber by handle.
func (e *Emitter) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
}

// Len returns the number of queued, undrained events.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) - e.head
}

// Overflow returns how many events were dropped to overflow.
func (e *Emitter) Overflow() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overflow
}

// popBatch removes up to DrainBatchSize events from the queue head.
func (e *Emitter) popBatch() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.queue) - e.head
	if n == 0 {
		return nil
	}
	if n > DrainBatchSize {
		n = DrainBatchSize
	}
	batch := make([]Event, n)
	copy(batch, e.queue[e.head:e.head+n])
	for i := e.head; i < e.head+n; i++ {
		e.queue[i] = Event{}
	}
	e.head += n
	e.compactLocked()
	return batch
}

// Start launches the drain goroutine feeding the sink. Call once.
func (e *Emitter) Start(sink Sink) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.stopCh:
				// Final flush so nothing enqueued before Stop is lost.
				for {
					batch := e.popBatch()
					if len(batch) == 0 {
						return
					}
					for _, ev := range batch {
						sink(ev)
					}
				}
			case <-e.wake:
				for {
					batch := e.popBatch()
					if len(batch) == 0 {
						break
					}
					for _, ev := range batch {
						sink(ev)
					}
				}
			}
		}
	}()
}

// Stop terminates the drain goroutine after a final flush.
func (e *Emitter) Stop() {
	e.once.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}
