package sweep

import (
	"context"
	"log"
	"time"
)

// AttemptExpirer is the slice of the attempt service the sweeper drives.
type AttemptExpirer interface {
	SweepExpired(ctx context.Context, limit int64) (int, error)
}

// Sweeper periodically expires in_progress attempts whose deadline passed
// while no request touched them. Lazy expiry on submit handles active
// attempts; the sweeper catches the abandoned ones.
type Sweeper struct {
	service  AttemptExpirer
	interval time.Duration
	batch    int64
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(service AttemptExpirer, interval time.Duration, batch int64) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		batch:    batch,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *Sweeper) Start() {
	go s.run()
	log.Printf("Attempt sweeper started, interval %s", s.interval)
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	swept, err := s.service.SweepExpired(ctx, s.batch)
	if err != nil {
		log.Printf("Error: attempt sweep failed: %v", err)
		return
	}
	if swept > 0 {
		log.Printf("Attempt sweeper expired %d overdue attempts", swept)
	}
}

// Close stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Close() {
	close(s.stop)
	<-s.done
}
