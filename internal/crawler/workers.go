package crawler

import (
	"context"
	"sync"
)

const (
	stopRunTimeout = "run timeout exceeded"
	stopTaskBudget = "task budget exhausted"
	stopCancelled  = "cancelled"
)

// dispatch feeds queued tasks to a fixed pool of workers until the frontier
// drains or a budget runs out. It returns once every in-flight task has
// finished. The returned reason is empty when the crawl drained normally.
func (r *Run) dispatch(ctx, budgetCtx context.Context) string {
	jobs := make(chan CrawlTask, r.maxWorkers)
	slots := make(chan struct{}, r.maxWorkers)
	var wg sync.WaitGroup
	for i := 0; i < r.maxWorkers; i++ {
		wg.Add(1)
		go r.worker(ctx, jobs, slots, &wg)
	}

	dispatched := 0
	reason := ""
loop:
	for {
		select {
		case slots <- struct{}{}:
		case <-budgetCtx.Done():
			reason = stopReason(ctx)
			break loop
		}

		budgetLeft := r.maxTasks == 0 || dispatched < r.maxTasks
		task, res := r.frontier.pop(budgetLeft)
		switch res {
		case popReady:
			dispatched++
			r.recordDispatched()
			jobs <- task
			continue
		case popBudget:
			<-slots
			reason = stopTaskBudget
			break loop
		case popEmpty:
			<-slots
			break loop
		}

		<-slots
		select {
		case <-r.frontier.wake:
		case <-budgetCtx.Done():
			reason = stopReason(ctx)
			break loop
		}
	}

	r.setState(StateDraining)
	close(jobs)
	wg.Wait()
	return reason
}

func (r *Run) worker(ctx context.Context, jobs <-chan CrawlTask, slots <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range jobs {
		r.process(ctx, task)
		r.frontier.done()
		<-slots
	}
}

func stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return stopCancelled
	}
	return stopRunTimeout
}
