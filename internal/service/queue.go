package service

import (
	"sync"

	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// KeyedQueue runs jobs one at a time per key, in submission order. Each
// active key has one worker goroutine that exits when its queue drains.
type KeyedQueue struct {
	mu     sync.Mutex
	queues map[string][]func()
	closed bool
	wg     sync.WaitGroup
}

// NewKeyedQueue creates an empty queue.
func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{queues: make(map[string][]func())}
}

// Submit enqueues a job for key. It returns false after Close.
func (q *KeyedQueue) Submit(key string, job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	pending, active := q.queues[key]
	q.queues[key] = append(pending, job)
	metrics.QueueDepth.Inc()

	if !active {
		q.wg.Add(1)
		go q.work(key)
	}
	return true
}

func (q *KeyedQueue) work(key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		pending := q.queues[key]
		if len(pending) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		job := pending[0]
		pending[0] = nil
		q.queues[key] = pending[1:]
		q.mu.Unlock()

		metrics.QueueDepth.Dec()
		job()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *KeyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
}
