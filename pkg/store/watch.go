package store

import (
	"context"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/notify"
)

// ChangeEvent is one entry in the store-wide change feed.
type ChangeEvent struct {
	Key   *core.Key
	Kind  notify.Kind
	Field string
}

// String implements the event contract of the lifecycle bridge.
func (e ChangeEvent) String() string {
	if e.Field != "" {
		return string(e.Kind) + " " + e.Key.String() + "." + e.Field
	}
	return string(e.Kind) + " " + e.Key.String()
}

// Watch returns a buffered feed of every change notification in the store.
// The buffer decouples producers from slow consumers; when it overflows,
// events are dropped (with a debug log) rather than blocking a mutation
// turn. The channel closes when ctx is cancelled or the store closes.
func (s *Store) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	if s.closed.Load() {
		return nil, core.ErrStoreClosed
	}

	ch := make(chan ChangeEvent, s.eventBuffer)

	tapID := s.bus.Tap(func(key *core.Key, kind notify.Kind, field string) {
		select {
		case ch <- ChangeEvent{Key: key, Kind: kind, Field: field}:
		default:
			s.logger.Debug("watch buffer full, dropping event", "key", key.String(), "kind", string(kind))
		}
	})

	s.watchMu.Lock()
	s.nextTap++
	id := s.nextTap
	s.watchers[id] = watcher{ch: ch, tapID: tapID}
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.bus.Untap(tapID)

		s.watchMu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
		s.watchMu.Unlock()
	}()

	return ch, nil
}
