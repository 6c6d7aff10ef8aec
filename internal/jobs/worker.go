// Package jobs runs the background annotation queue: a polling worker that
// hands batches of pending jobs to a processor.
package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor defines the interface for processing a batch of pending jobs.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker polls the job queue on a fixed interval.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("annotation worker started, poll interval %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("annotation worker stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("annotation worker stopped: stop signal received")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("error processing annotation jobs: %v", err)
			}
		}
	}
}

// Stop gracefully stops the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("annotation worker shutdown complete")
}
