// Package lifecycle bridges the store's change feed into the generic
// lifecycle event plane, so a supervisor can react to cache changes the same
// way it reacts to any other managed source.
package lifecycle

import (
	"context"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/store"
)

type storeSource struct {
	events <-chan store.ChangeEvent
	out    chan lifecycle.Event
	kinds  map[notify.Kind]bool
}

// NewSource wraps a store change feed (from Store.Watch) as a
// lifecycle.Source. When kinds are given only events of those kinds pass
// through; otherwise the whole feed does. The bridge buffers as deep as the
// feed itself, so it never backpressures the store's fan-out earlier than
// the feed would.
func NewSource(events <-chan store.ChangeEvent, kinds ...notify.Kind) lifecycle.Source {
	var filter map[notify.Kind]bool
	if len(kinds) > 0 {
		filter = make(map[notify.Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}
	return &storeSource{
		events: events,
		out:    make(chan lifecycle.Event, cap(events)),
		kinds:  filter,
	}
}

func (s *storeSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *storeSource) Start(ctx context.Context) error {
	// lifecycle.Go keeps the bridge goroutine tracked by the supervisor.
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if s.kinds != nil && !s.kinds[e.Kind] {
					continue
				}
				// store.ChangeEvent implements lifecycle.Event (has String())
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
