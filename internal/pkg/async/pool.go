// internal/pkg/async/pool.go
package async

import (
	"context"
	"fmt"
	"sync"
)

// Task is one named unit of work.
type Task[T any] struct {
	Name    string
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of a Task.
type Result[T any] struct {
	Name string
	Data T
	Err  error
}

// Pool runs batches of tasks on a fixed number of workers.
type Pool[T any] struct {
	workerCount int
}

func NewPool[T any](workerCount int) *Pool[T] {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool[T]{workerCount: workerCount}
}

func (p *Pool[T]) worker(ctx context.Context, tasks <-chan Task[T], results chan<- Result[T], wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		results <- p.run(ctx, task)
	}
}

func (p *Pool[T]) run(ctx context.Context, task Task[T]) (res Result[T]) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("async: task %s panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Data, res.Err = task.Execute(ctx)
	return res
}

// Execute runs every task and returns the results keyed by task name. Every
// task gets a result: tasks not started before ctx ends carry ctx.Err().
func (p *Pool[T]) Execute(ctx context.Context, tasks []Task[T]) map[string]Result[T] {
	taskCh := make(chan Task[T])
	// buffered so workers never block on a reader that stopped early
	resultCh := make(chan Result[T], len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, taskCh, resultCh, &wg)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			taskCh <- task
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make(map[string]Result[T], len(tasks))
	for result := range resultCh {
		results[result.Name] = result
	}
	return results
}
