package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor handles one polling pass over pending work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed polling interval until stopped.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a polling worker around the given processor.
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the polling loop. It blocks until the context is cancelled or
// Stop is called, so it is normally launched in its own goroutine. Errors
// from a single pass are logged and do not stop the loop.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("ingestion poller started (interval %v)", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("ingestion poller stopped: context cancelled")
			return
		case <-w.stopChan:
			log.Println("ingestion poller stopped")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("ingestion pass failed: %v", err)
			}
		}
	}
}

// Stop signals the loop to exit and waits for the current pass to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}
