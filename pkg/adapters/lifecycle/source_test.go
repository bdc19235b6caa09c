package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/store"
)

func TestSource_BridgesEvents(t *testing.T) {
	feed := make(chan store.ChangeEvent, 1)
	src := NewSource(feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	key := &core.Key{Type: "articles", ID: "1", Lid: "lid-1"}
	feed <- store.ChangeEvent{Key: key, Kind: notify.KindAttributes, Field: "title"}

	select {
	case ev := <-src.Events():
		if ev.String() != "attributes articles:1.title" {
			t.Errorf("unexpected event: %q", ev.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the bridged event")
	}
}

func TestSource_FiltersKinds(t *testing.T) {
	feed := make(chan store.ChangeEvent, 2)
	src := NewSource(feed, notify.KindState)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	key := &core.Key{Type: "articles", ID: "1", Lid: "lid-1"}
	feed <- store.ChangeEvent{Key: key, Kind: notify.KindAttributes, Field: "title"}
	feed <- store.ChangeEvent{Key: key, Kind: notify.KindState}
	close(feed)

	var got []string
	for ev := range src.Events() {
		got = append(got, ev.String())
	}
	if len(got) != 1 || got[0] != "state articles:1" {
		t.Errorf("expected only the state event through the filter, got %v", got)
	}
}

func TestSource_ClosesWithFeed(t *testing.T) {
	feed := make(chan store.ChangeEvent)
	src := NewSource(feed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	close(feed)
	select {
	case _, ok := <-src.Events():
		if ok {
			t.Errorf("expected the output channel to close with the feed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("output channel did not close")
	}
}
