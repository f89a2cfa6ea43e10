// Package pool bounds how many ingestion pipelines run at once. Each Kafka
// message is handled on its own goroutine, gated by a semaphore, so a burst
// of uploads cannot spawn unbounded concurrent transcription calls.
package pool

import (
	"context"
	"sync"

	"meetingScribe/worker/kafka"
)

type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

func (p *WorkerPool) Submit(ctx context.Context, msg *kafka.IngestMessage, handler func(context.Context, *kafka.IngestMessage) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
			handler(ctx, msg)
		case <-ctx.Done():
		}
	}()
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
