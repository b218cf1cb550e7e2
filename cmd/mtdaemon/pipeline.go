package main

import (
	"context"
	"sync"
	"time"

	"github.com/Sh00ty/mt-route-daemon/internal/events"
)

// eventPipeline fans events out to synchronous sinks and to stores fed
// through notifier channels.
type eventPipeline struct {
	buffer        int
	retryInterval time.Duration

	sinks     events.Sinks
	notifiers []*events.ChanNotifier
	senders   sync.WaitGroup
	closers   []func()
}

func newEventPipeline(buffer int, retryInterval time.Duration, sinks ...events.Sink) *eventPipeline {
	return &eventPipeline{
		buffer:        buffer,
		retryInterval: retryInterval,
		sinks:         sinks,
	}
}

// attach starts delivering events to store. closeStore, when not nil, runs
// on Close once every queued event was handed to the store.
func (p *eventPipeline) attach(ctx context.Context, name string, store events.Store, closeStore func()) {
	n := events.NewNotifier(p.buffer)
	s := events.NewSender(name, n.Events(), store, p.retryInterval, p.buffer)
	p.senders.Add(1)
	go func() {
		defer p.senders.Done()
		s.Run(context.WithoutCancel(ctx))
	}()
	p.notifiers = append(p.notifiers, n)
	p.sinks = append(p.sinks, n)
	if closeStore != nil {
		p.closers = append(p.closers, closeStore)
	}
}

func (p *eventPipeline) Emit(ctx context.Context, e events.CycleEvent) {
	p.sinks.Emit(ctx, e)
}

// Close flushes pending events and then closes the stores.
func (p *eventPipeline) Close() {
	for _, n := range p.notifiers {
		n.Close()
	}
	p.senders.Wait()
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}
