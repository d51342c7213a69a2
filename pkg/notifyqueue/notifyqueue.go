// Package notifyqueue is the Real-time Notification Fabric's dispatch queue
// (spec §4.9): a 4-band priority queue with per-source rate limiting,
// exponential-backoff retry, and a dead-letter list for exhausted
// notifications.
package notifyqueue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Band is the priority band a notification is queued under (spec §4.9).
type Band int

const (
	BandCritical Band = iota
	BandHigh
	BandMedium
	BandLow
	bandCount
)

// Notification is one unit of queued work: a rendered message destined for
// one or more delivery channels.
type Notification struct {
	ID       string
	Source   string
	Band     Band
	Subject  string
	Body     string
	Channels []string
	Attempts int
	EnqueuedAt time.Time
}

// Channel delivers a notification through one transport (Slack, email, SMS,
// webhook, the socket fabric, or the SSE fabric — spec §4.9 lists six).
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

const maxRetries = 5

// Queue is the 4-band priority dispatch queue.
type Queue struct {
	mu       sync.Mutex
	bands    [bandCount]*list.List
	capacity int

	limiters   map[string]*rate.Limiter
	limiterMu  sync.Mutex
	defaultRPS float64

	channels map[string]Channel
	deadLetter []Notification
	logger   *slog.Logger
}

// NewQueue creates a Queue with the given per-band capacity and default
// per-source rate limit.
func NewQueue(capacity int, defaultRequestsPerSecond float64, logger *slog.Logger) *Queue {
	q := &Queue{
		capacity:   capacity,
		limiters:   make(map[string]*rate.Limiter),
		defaultRPS: defaultRequestsPerSecond,
		channels:   make(map[string]Channel),
		logger:     logger,
	}
	for i := range q.bands {
		q.bands[i] = list.New()
	}
	return q
}

// RegisterChannel adds a delivery channel, addressable by Notification.Channels.
func (q *Queue) RegisterChannel(ch Channel) {
	q.channels[ch.Name()] = ch
}

// Enqueue adds a notification to its band. CRITICAL and HIGH notifications
// are pushed to the front of their band so they dispatch ahead of
// same-band backlog; MEDIUM and LOW are pushed to the back (spec §4.9).
func (q *Queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	band := q.bands[n.Band]
	if band.Len() >= q.capacity {
		return false // full: caller surfaces a capacity-rejected error
	}

	n.EnqueuedAt = time.Now()
	switch n.Band {
	case BandCritical, BandHigh:
		band.PushFront(n)
	default:
		band.PushBack(n)
	}
	return true
}

// dequeue pops the highest-priority available notification across all
// bands, CRITICAL first.
func (q *Queue) dequeue() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, band := range q.bands {
		if el := band.Front(); el != nil {
			band.Remove(el)
			return el.Value.(Notification), true
		}
	}
	return Notification{}, false
}

func (q *Queue) limiterFor(source string) *rate.Limiter {
	q.limiterMu.Lock()
	defer q.limiterMu.Unlock()
	l, ok := q.limiters[source]
	if !ok {
		l = rate.NewLimiter(rate.Limit(q.defaultRPS), int(q.defaultRPS)+1)
		q.limiters[source] = l
	}
	return l
}

// DispatchOne pops and delivers a single notification to every one of its
// channels in parallel, honoring the source's rate limit and retrying
// transient failures with exponential backoff before falling to the dead
// letter list.
func (q *Queue) DispatchOne(ctx context.Context) bool {
	n, ok := q.dequeue()
	if !ok {
		return false
	}

	if err := q.limiterFor(n.Source).Wait(ctx); err != nil {
		return true
	}

	var wg sync.WaitGroup
	for _, chName := range n.Channels {
		ch, ok := q.channels[chName]
		if !ok {
			q.logger.Warn("notification references unregistered channel", "channel", chName)
			continue
		}
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			q.deliverWithRetry(ctx, ch, n)
		}(ch)
	}
	wg.Wait()
	return true
}

func (q *Queue) deliverWithRetry(ctx context.Context, ch Channel, n Notification) {
	operation := func() (struct{}, error) {
		return struct{}{}, ch.Deliver(ctx, n)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxRetries),
	)
	if err != nil {
		q.logger.Error("notification delivery exhausted retries",
			"channel", ch.Name(), "source", n.Source, "id", n.ID, "error", err)
		q.mu.Lock()
		q.deadLetter = append(q.deadLetter, n)
		q.mu.Unlock()
	}
}

// DeadLetters returns a snapshot of notifications that exhausted retries.
func (q *Queue) DeadLetters() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// Depth returns the current length of each band, for health reporting.
func (q *Queue) Depth() map[Band]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depths := make(map[Band]int, bandCount)
	for b, l := range q.bands {
		depths[Band(b)] = l.Len()
	}
	return depths
}

// Run drains the queue until ctx is cancelled, dispatching as fast as each
// source's rate limiter allows.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !q.DispatchOne(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
		}
	}
}
