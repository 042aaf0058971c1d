package net

import "sync"

// TaskQueue hands work from I/O goroutines to the single goroutine that runs
// the frame loop. Enqueue may be called from anywhere; Drain must only be
// called from the frame loop.
type TaskQueue struct {
	mu      sync.Mutex
	pending []func()
	spare   []func()
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Enqueue appends task. Nil tasks are ignored.
func (q *TaskQueue) Enqueue(task func()) {
	if task == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
}

// Drain runs every task queued before the call, in order, and returns how
// many ran. Tasks queued while draining run on the next Drain.
func (q *TaskQueue) Drain() int {
	q.mu.Lock()
	tasks := q.pending
	q.pending = q.spare[:0]
	q.spare = nil
	q.mu.Unlock()

	for i, task := range tasks {
		task()
		tasks[i] = nil
	}

	q.mu.Lock()
	if q.spare == nil {
		q.spare = tasks[:0]
	}
	q.mu.Unlock()
	return len(tasks)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
