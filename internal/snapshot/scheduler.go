// Package snapshot coalesces Building change events into periodic Store
// writes (§6). A reading that only ever nudges LATER-class measurements
// waits out the aggregation window so a burst of minor changes becomes one
// write; an IMMEDIATE-class measurement (a light switching, presence
// triggering) bypasses the wait entirely.
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loxone-go/miniserverd/internal/model"
)

// MaxAggregationWindow is the longest a LATER-class change is allowed to
// wait before it is flushed regardless of urgency (§6).
const MaxAggregationWindow = 30 * time.Second

// Writer is the persistence boundary the scheduler drives. It is satisfied
// by *store.PostgresStore; kept as an interface here so tests can supply a
// recording fake without pulling in a real database.
type Writer interface {
	WriteSnapshot(ctx context.Context, at time.Time, rooms []*model.Room) error
}

// Clock abstracts time.Now so tests can drive the aggregation window
// deterministically.
type Clock func() time.Time

// Scheduler watches a Building under a caller-supplied mutex and persists
// its rooms through Writer, either immediately on an IMMEDIATE-class change
// or on the next tick of Run, which fires every MaxAggregationWindow (§6).
// LATER-class changes are never persisted from OnUpdate, however long ago
// the last persist was.
type Scheduler struct {
	writer Writer
	clock  Clock
	mu     *sync.Mutex
	b      *model.Building
}

// New builds a Scheduler over b, guarded by mu (the same mutex the ingest
// loop holds while routing value-state updates into b).
func New(writer Writer, mu *sync.Mutex, b *model.Building) *Scheduler {
	return &Scheduler{writer: writer, clock: time.Now, mu: mu, b: b}
}

// OnUpdate is called after every ApplyUpdate on the Building this scheduler
// watches. An IMMEDIATE-class change persists synchronously; any other
// change is left for the next tick.
func (s *Scheduler) OnUpdate(ctx context.Context, change model.ChangeClass) error {
	if change != model.ChangeImmediate {
		return nil
	}
	return s.persist(ctx)
}

// Run drives the time-based half of the aggregation policy: every tick it
// persists unconditionally if the building has any pending change at all,
// which bounds how long a LATER-class change can wait (§6). Run blocks
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(MaxAggregationWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	s.mu.Lock()
	pending := s.b.Change != model.ChangeNone
	s.mu.Unlock()

	if !pending {
		return nil
	}
	return s.persist(ctx)
}

func (s *Scheduler) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if err := s.writer.WriteSnapshot(ctx, now, s.b.Rooms); err != nil {
		slog.Error("snapshot: write failed", "error", err)
		return err
	}

	s.b.ResetAfterPersist(now)
	return nil
}
