package alert

import (
	"sync"
	"time"

	"kanban-api/domain"
)

type deliveryJob struct {
	userID string
	n      domain.Notification
}

// deliveryPool bounds the goroutines spent on platform deliveries. Handoff is
// non-blocking with a short grace timer; callers fall back to inline delivery
// when the pool is saturated so Create never stalls behind the platform.
type deliveryPool struct {
	jobs    chan deliveryJob
	handoff time.Duration
	run     func(deliveryJob)
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newDeliveryPool(workers, buffer int, handoff time.Duration, run func(deliveryJob)) *deliveryPool {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = workers * 2
	}
	p := &deliveryPool{
		jobs:    make(chan deliveryJob, buffer),
		handoff: handoff,
		run:     run,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *deliveryPool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

// trySend hands the job to a worker, waiting at most the handoff grace. A
// send racing close is absorbed by the recover and reported as a miss.
func (p *deliveryPool) trySend(j deliveryJob) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	select {
	case p.jobs <- j:
		return true
	default:
	}

	if p.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(p.handoff)
	defer timer.Stop()
	select {
	case p.jobs <- j:
		return true
	case <-timer.C:
		return false
	}
}

func (p *deliveryPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}
