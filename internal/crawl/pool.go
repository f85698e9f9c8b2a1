package crawl

import (
	"context"
	"sync"
)

// runPool fans jobs out to a fixed number of workers and collects one
// result per job, in completion order. Workers drain the jobs channel; a
// cancelled context stops feeding but lets in-flight jobs finish.
func runPool[J, R any](ctx context.Context, workers int, jobList []J, fn func(ctx context.Context, job J) R) []R {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobList) {
		workers = len(jobList)
	}
	if len(jobList) == 0 {
		return nil
	}

	jobs := make(chan J, workers)
	results := make(chan R, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- fn(ctx, job)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, job := range jobList {
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]R, 0, len(jobList))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}
