package jlhttp

import (
	"context"
	"fmt"
	"sync"
)

// DefaultTaskConcurrency bounds RunTasks when the caller passes a
// non-positive limit.
const DefaultTaskConcurrency = 4

// Task is a deferred operation executed by RunTasks or RetryTask.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult is the settled outcome of one task. Err is nil exactly when
// the task succeeded.
type TaskResult[T any] struct {
	Value T
	Err   error
}

// Ok reports whether the task settled successfully.
func (r TaskResult[T]) Ok() bool {
	return r.Err == nil
}

// RunTasks executes every task with at most limit concurrently active and
// returns one settled outcome per task, index-aligned with the input
// regardless of completion order. A failing task never cancels its
// siblings, and the next pending task starts as soon as any running one
// settles. An empty task list returns an empty result slice immediately.
//
// limit >= len(tasks) is effectively unbounded; limit <= 0 falls back to
// DefaultTaskConcurrency. The context is handed to each task; the scheduler
// itself keeps running until every task has settled so no slot is left
// undecided.
func RunTasks[T any](ctx context.Context, tasks []Task[T], limit int) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if limit <= 0 {
		limit = DefaultTaskConcurrency
	}
	if limit > len(tasks) {
		limit = len(tasks)
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, task := range tasks {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer func() {
				<-sem
				wg.Done()
			}()
			results[i] = settle(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

// settle invokes one task and converts panics into ordinary errors so a
// misbehaving task cannot take down its batch.
func settle[T any](ctx context.Context, task Task[T]) (result TaskResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if task == nil {
		result.Err = ErrNilTask
		return result
	}
	result.Value, result.Err = task(ctx)
	return result
}
