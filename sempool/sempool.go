package sempool

import "sync"

// NewSemaphore returns a semaphore admitting capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Semaphore is a counting semaphore.
type Semaphore struct {
	inner chan struct{}
}

// Acquire blocks until the semaphore has room.
func (s *Semaphore) Acquire() {
	s.inner <- struct{}{}
}

// TryAcquire acquires the semaphore if it has room, without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases a previous Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("semaphore inconsistency: release before acquire!")
	}
}

// SemaphoreKey identifies the semaphore of a resource.
type SemaphoreKey interface {
	Key() string
}

// NewSemaphorePool returns a pool creating semaphores of capacity semaCap on demand.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*Semaphore), semaCap: semaCap}
}

// SemaphorePool holds one semaphore per key.
type SemaphorePool struct {
	ss      map[string]*Semaphore
	semaCap int
	mu      sync.Mutex
	stopped bool
}

// Get returns the semaphore of k.
func (p *SemaphorePool) Get(k SemaphoreKey) *Semaphore {
	key := k.Key()

	p.mu.Lock()
	defer p.mu.Unlock()
	s, exists := p.ss[key]
	if !exists {
		s = NewSemaphore(p.semaCap)
		if p.stopped {
			// Stopped pools never admit new holders.
			for i := 0; i < p.semaCap; i++ {
				s.Acquire()
			}
		}
		p.ss[key] = s
	}
	return s
}

// Stop waits for the current holders of every semaphore to release it, and
// keeps every semaphore acquired afterwards.
func (p *SemaphorePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	for _, s := range p.ss {
		for i := 0; i < p.semaCap; i++ {
			s.Acquire()
		}
	}
}
