package events

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
)

// Store persists events. SaveEvents returns how many leading events were saved.
type Store interface {
	SaveEvents(ctx context.Context, events []CycleEvent) (int, error)
}

// Sender drains a notifier into a store. Events the store rejects after
// retries are queued and resent on every tick of retryInterval.
type Sender struct {
	name        string
	events      <-chan CycleEvent
	store       Store
	ttlTicker   *time.Ticker
	unsentGuard sync.Mutex
	unsent      []CycleEvent
	maxUnsent   int
}

func NewSender(name string, events <-chan CycleEvent, store Store, retryInterval time.Duration, maxUnsent int) *Sender {
	return &Sender{
		name:      name,
		events:    events,
		store:     store,
		ttlTicker: time.NewTicker(retryInterval),
		unsent:    make([]CycleEvent, 0),
		maxUnsent: maxUnsent,
	}
}

// Run returns when the event channel is closed, after a last flush of the
// unsent queue, or when ctx is done.
func (s *Sender) Run(ctx context.Context) {
	defer s.ttlTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ttlTicker.C:
			s.sendUnsentEvents(ctx)
		case event, ok := <-s.events:
			if !ok {
				s.sendUnsentEvents(ctx)
				return
			}
			err := retry.Do(
				func() error {
					_, err := s.store.SaveEvents(ctx, []CycleEvent{event})
					return err
				},
				retry.Context(ctx),
				retry.Attempts(3),
				retry.LastErrorOnly(true),
			)
			if err != nil {
				log.Error().Err(err).Msgf("%s: failed to save event %s, put it into unsent queue", s.name, event.ID)
				s.enqueue(event)
			}
		}
	}
}

func (s *Sender) enqueue(event CycleEvent) {
	s.unsentGuard.Lock()
	defer s.unsentGuard.Unlock()

	s.unsent = append(s.unsent, event)
	if s.maxUnsent > 0 && len(s.unsent) > s.maxUnsent {
		drop := len(s.unsent) - s.maxUnsent
		log.Warn().Msgf("%s: unsent queue is full, dropping %d oldest events", s.name, drop)
		s.unsent = append(s.unsent[:0], s.unsent[drop:]...)
	}
}

func (s *Sender) sendUnsentEvents(ctx context.Context) {
	s.unsentGuard.Lock()
	defer s.unsentGuard.Unlock()

	if len(s.unsent) == 0 {
		return
	}
	done, err := s.store.SaveEvents(ctx, s.unsent)
	if err != nil {
		log.Warn().Err(err).Msgf("%s: failed to resend unsent events: done %d of %d", s.name, done, len(s.unsent))

		rest := make([]CycleEvent, len(s.unsent)-done)
		copy(rest, s.unsent[done:])
		s.unsent = rest
		return
	}
	s.unsent = s.unsent[:0]
}

// Unsent returns the number of queued events.
func (s *Sender) Unsent() int {
	s.unsentGuard.Lock()
	defer s.unsentGuard.Unlock()
	return len(s.unsent)
}
