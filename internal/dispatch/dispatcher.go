package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"roadwatch/internal/incident"
	"roadwatch/internal/pipeline"
)

const (
	// SubjectProcess carries incident processing jobs
	SubjectProcess = "incidents.process"

	// queueGroup makes worker processes share the subject so each job is
	// delivered to exactly one of them
	queueGroup = "processors"

	enqueueAttempts = 3
	enqueueBackoff  = 100 * time.Millisecond
)

// Processor handles one job end to end. The orchestrator is the production
// implementation.
type Processor interface {
	Process(ctx context.Context, job pipeline.Job) error
}

// PendingLister is the slice of the store the dispatcher needs at startup
type PendingLister interface {
	IncidentsByStatus(ctx context.Context, status incident.Status) ([]*incident.Incident, error)
}

// Dispatcher enqueues jobs and runs a bounded pool of workers consuming
// them. Running jobs are registered so one incident's processing can be
// cancelled without touching the others.
type Dispatcher struct {
	conn *nats.Conn
	proc Processor

	sub     *nats.Subscription
	sem     chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewDispatcher wires a dispatcher over an existing NATS connection
func NewDispatcher(conn *nats.Conn, proc Processor) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		conn:    conn,
		proc:    proc,
		baseCtx: ctx,
		stop:    cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Enqueue publishes a job with retry on broker errors. Delivery is
// at-least-once: the processing side absorbs duplicates via the status
// compare-and-swap.
func (d *Dispatcher) Enqueue(job pipeline.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	backoff := enqueueBackoff
	var lastErr error
	for attempt := 1; attempt <= enqueueAttempts; attempt++ {
		if err := d.conn.Publish(SubjectProcess, data); err == nil {
			if err := d.conn.Flush(); err == nil {
				return nil
			} else {
				lastErr = err
			}
		} else {
			lastErr = err
		}
		log.Printf("[Dispatch] Enqueue attempt %d/%d for incident %s failed: %v",
			attempt, enqueueAttempts, job.IncidentID, lastErr)
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("failed to enqueue incident %s after %d attempts: %w",
		job.IncidentID, enqueueAttempts, lastErr)
}

// Start subscribes to the job subject and processes jobs with at most
// workers concurrent runs
func (d *Dispatcher) Start(workers int) error {
	if workers <= 0 {
		workers = 2
	}
	d.sem = make(chan struct{}, workers)

	sub, err := d.conn.QueueSubscribe(SubjectProcess, queueGroup, func(msg *nats.Msg) {
		var job pipeline.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Printf("[Dispatch] Dropping malformed job: %v", err)
			return
		}

		select {
		case d.sem <- struct{}{}:
		case <-d.baseCtx.Done():
			return
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.runJob(job)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectProcess, err)
	}
	d.sub = sub

	log.Printf("[Dispatch] Consuming %s with %d workers", SubjectProcess, workers)
	return nil
}

func (d *Dispatcher) runJob(job pipeline.Job) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	defer cancel()

	d.mu.Lock()
	d.running[job.IncidentID] = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, job.IncidentID)
		d.mu.Unlock()
	}()

	if err := d.proc.Process(ctx, job); err != nil {
		log.Printf("[Dispatch] Processing incident %s ended with error: %v", job.IncidentID, err)
	}
}

// Cancel stops the running job for an incident, if any. Returns whether a
// run was found.
func (d *Dispatcher) Cancel(incidentID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[incidentID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of jobs currently being processed
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// RequeuePending re-enqueues every incident stranded in the pending status.
// Called once at startup so jobs lost to a crash are not orphaned forever.
func (d *Dispatcher) RequeuePending(ctx context.Context, st PendingLister) (int, error) {
	pending, err := st.IncidentsByStatus(ctx, incident.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending incidents: %w", err)
	}

	requeued := 0
	for _, inc := range pending {
		job := pipeline.Job{IncidentID: inc.ID, VideoPath: inc.VideoPath}
		if err := d.Enqueue(job); err != nil {
			return requeued, err
		}
		requeued++
	}
	if requeued > 0 {
		log.Printf("[Dispatch] Requeued %d pending incidents", requeued)
	}
	return requeued, nil
}

// Close stops consuming, cancels running jobs and waits for them to finish
func (d *Dispatcher) Close() {
	if d.sub != nil {
		d.sub.Unsubscribe()
	}
	d.stop()
	d.wg.Wait()
}
