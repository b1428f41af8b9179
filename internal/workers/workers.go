package workers

import (
	"context"
	"log"
	"time"
)

const (
	presenceSweepInterval = 1 * time.Minute
	matchSweepInterval    = 5 * time.Minute
	sessionSweepInterval  = 10 * time.Minute
	cleanupInterval       = 24 * time.Hour
)

type presenceSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type matchSweeper interface {
	ExpireSweep(ctx context.Context) (int, error)
}

type sessionSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type notificationCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Workers runs the periodic sweeps that correct state drift: stale
// presence, lapsed matches, expired sessions and dead notifications.
// Each sweep is independent and safe to run concurrently with the
// request path.
type Workers struct {
	presence      presenceSweeper
	matches       matchSweeper
	sessions      sessionSweeper
	notifications notificationCleaner
	ctx           context.Context
	cancel        context.CancelFunc
}

func NewWorkers(presence presenceSweeper, matches matchSweeper, sessions sessionSweeper, notifications notificationCleaner) *Workers {
	ctx, cancel := context.WithCancel(context.Background())
	return &Workers{
		presence:      presence,
		matches:       matches,
		sessions:      sessions,
		notifications: notifications,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches all background sweeps. Notification cleanup also runs
// once immediately to cover downtime.
func (w *Workers) Start() {
	log.Println("Starting background sweeps...")

	go w.runCleanupWorker(cleanupInterval)
	go w.runPresenceSweep(presenceSweepInterval)
	go w.runMatchSweep(matchSweepInterval)
	go w.runSessionSweep(sessionSweepInterval)

	log.Println("All background sweeps started")
}

func (w *Workers) Stop() {
	log.Println("Stopping background sweeps...")
	w.cancel()
}

func (w *Workers) runPresenceSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Presence staleness sweep started (interval: %v)", interval)

	for {
		select {
		case <-ticker.C:
			swept, err := w.presence.Sweep(w.ctx)
			if err != nil {
				log.Printf("Presence sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("Presence sweep: forced %d stale users offline", swept)
			}

		case <-w.ctx.Done():
			log.Println("Presence sweep stopped")
			return
		}
	}
}

func (w *Workers) runMatchSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Match expiry sweep started (interval: %v)", interval)

	for {
		select {
		case <-ticker.C:
			expired, err := w.matches.ExpireSweep(w.ctx)
			if err != nil {
				log.Printf("Match expiry sweep failed: %v", err)
				continue
			}
			if expired > 0 {
				log.Printf("Match expiry sweep: expired %d matches", expired)
			}

		case <-w.ctx.Done():
			log.Println("Match expiry sweep stopped")
			return
		}
	}
}

func (w *Workers) runSessionSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Session expiry sweep started (interval: %v)", interval)

	for {
		select {
		case <-ticker.C:
			orphaned, err := w.sessions.Sweep(w.ctx)
			if err != nil {
				log.Printf("Session sweep failed: %v", err)
				continue
			}
			if orphaned > 0 {
				log.Printf("Session sweep: %d users left without sessions", orphaned)
			}

		case <-w.ctx.Done():
			log.Println("Session sweep stopped")
			return
		}
	}
}

func (w *Workers) runCleanupWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("Notification cleanup started (interval: %v)", interval)

	// Run immediately on startup to cover downtime
	w.runCleanup()

	for {
		select {
		case <-ticker.C:
			w.runCleanup()

		case <-w.ctx.Done():
			log.Println("Notification cleanup stopped")
			return
		}
	}
}

func (w *Workers) runCleanup() {
	removed, err := w.notifications.Cleanup(w.ctx)
	if err != nil {
		log.Printf("Notification cleanup failed: %v", err)
		return
	}
	log.Printf("Notification cleanup completed: removed=%d", removed)
}
