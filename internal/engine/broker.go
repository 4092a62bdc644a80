package engine

import (
	"sync"
	"time"

	"mediamill/internal/model"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// When a subscriber falls this far behind, the oldest buffered snapshot is
// evicted so the freshest state always gets through.
const subscriberBufferSize = 8

// Broker fans job snapshots out to per-job subscribers. It is safe for
// concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job finishes) receive a closed channel instead of
// blocking forever. Markers are evicted by ReapClosed on the same retention
// cadence as the job rows they describe, so the map stays bounded by the
// retention window rather than growing with total jobs processed.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs     map[int]chan model.Job
	nextID   int
	closed   bool
	closedAt time.Time
}

// NewBroker creates a new snapshot broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscribe returns a channel that receives snapshots for the given job and
// an unsubscribe function. If the job has already finished (Close was
// called), the returned channel is immediately closed.
func (b *Broker) Subscribe(jobID string) (<-chan model.Job, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[int]chan model.Job)}
		b.topics[jobID] = t
	}

	ch := make(chan model.Job, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a snapshot to all subscribers of the given job. A full
// subscriber buffer has its oldest entry evicted first; a stale snapshot
// is worth less than the one replacing it.
func (b *Broker) Publish(jobID string, snap model.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close signals that no more snapshots will be published for the given job.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *Broker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	t, ok := b.topics[jobID]
	if !ok {
		// Leave a closed marker so late subscribers get a closed channel.
		b.topics[jobID] = &topic{subs: make(map[int]chan model.Job), closed: true, closedAt: now}
		return
	}

	t.closed = true
	t.closedAt = now
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// ReapClosed evicts closed-topic markers whose jobs finished before cutoff.
// A subscriber arriving for an evicted topic would block on a fresh one,
// but by then the job row has been (or is about to be) reaped too, so the
// status check ahead of any subscription answers not-found instead.
func (b *Broker) ReapClosed(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	reaped := 0
	for jobID, t := range b.topics {
		if t.closed && t.closedAt.Before(cutoff) {
			delete(b.topics, jobID)
			reaped++
		}
	}
	return reaped
}

// TopicCount returns the number of live topics plus retained markers.
func (b *Broker) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
