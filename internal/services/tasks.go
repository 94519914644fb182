package services

import (
	"context"
	"log"
	"sync"
	"time"
)

const taskTimeout = 15 * time.Second

type task struct {
	name string
	fn   func(context.Context) error
}

// TaskQueue runs best-effort background writes (mark-read, last-opened,
// last-reply). Failures are logged and never surfaced: chat navigation and
// sending must not block on moderation-metadata bookkeeping.
type TaskQueue struct {
	ch   chan task
	done chan struct{}
	once sync.Once
}

func NewTaskQueue(size int) *TaskQueue {
	q := &TaskQueue{
		ch:   make(chan task, size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules a background task. When the queue is full the task is
// dropped with a log line rather than blocking the caller.
func (q *TaskQueue) Enqueue(name string, fn func(context.Context) error) {
	select {
	case q.ch <- task{name: name, fn: fn}:
	default:
		log.Printf("tasks: queue full, dropping %q", name)
	}
}

func (q *TaskQueue) run() {
	defer close(q.done)
	for t := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		if err := t.fn(ctx); err != nil {
			log.Printf("tasks: %q failed: %v", t.name, err)
		}
		cancel()
	}
}

// Close stops the worker after draining queued tasks.
func (q *TaskQueue) Close() {
	q.once.Do(func() { close(q.ch) })
	<-q.done
}
