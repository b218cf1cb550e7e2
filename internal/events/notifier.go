package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ChanNotifier hands events to a background consumer without ever blocking
// the control loop. Events are dropped when the buffer is full.
type ChanNotifier struct {
	guard     sync.RWMutex
	closed    bool
	eventChan chan CycleEvent
	dropped   atomic.Uint64
}

func NewNotifier(buf int) *ChanNotifier {
	return &ChanNotifier{
		eventChan: make(chan CycleEvent, buf),
	}
}

func (n *ChanNotifier) Emit(_ context.Context, event CycleEvent) {
	n.guard.RLock()
	defer n.guard.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.eventChan <- event:
	default:
		dropped := n.dropped.Add(1)
		log.Warn().Msgf("event consumer is behind, dropped event %s (%d dropped so far)", event.ID, dropped)
	}
}

func (n *ChanNotifier) Events() <-chan CycleEvent {
	return n.eventChan
}

func (n *ChanNotifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close stops accepting events. Buffered events stay readable.
func (n *ChanNotifier) Close() {
	n.guard.Lock()
	defer n.guard.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.eventChan)
}
