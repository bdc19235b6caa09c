package stress

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/strata"
	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/request"
	"github.com/aretw0/strata/pkg/schema"
)

func newStressStore(t *testing.T) (*strata.Store, *memory.Handler) {
	t.Helper()

	reg := schema.NewRegistry()
	require.NoError(t, reg.Define(schema.Type{
		Name:       "articles",
		Attributes: []string{"title", "views"},
		Relationships: map[string]schema.Relationship{
			"author": {Kind: schema.BelongsTo, Type: "people", Inverse: "articles"},
		},
	}))
	require.NoError(t, reg.Define(schema.Type{
		Name:       "people",
		Attributes: []string{"name"},
		Relationships: map[string]schema.Relationship{
			"articles": {Kind: schema.HasMany, Type: "articles", Inverse: "author"},
		},
	}))

	h := memory.New()
	st, err := strata.New(strata.WithSchema(reg), strata.WithHandler(h))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, h
}

// A hundred goroutines asking for the same record while the transport is
// held must collapse into a single upstream call.
func TestConcurrency_FindRecordDedup(t *testing.T) {
	st, h := newStressStore(t)
	ctx := context.Background()

	h.Seed(strata.Document{One: &strata.Resource{
		Type: "articles", ID: "hot", Attributes: map[string]any{"title": "Trending"},
	}})
	release := h.Hold()

	const waiters = 100
	var wg, issued sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		issued.Add(1)
		go func() {
			defer wg.Done()
			fut, err := st.FindRecord(ctx, "articles", "hot", nil)
			issued.Done()
			if err != nil {
				errs <- err
				return
			}
			_, err = fut.Wait(ctx)
			errs <- err
		}()
	}

	// Every waiter has piled onto the in-flight request before it settles.
	issued.Wait()
	release()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.RequestsFor(request.OpFindRecord, "articles", "hot", ""),
		"all waiters must share one transport call")

	v, _ := st.Attr(st.Key("articles", "hot"), "title")
	assert.Equal(t, "Trending", v)
}

// Concurrent pushes of distinct and overlapping documents must keep
// identities stable: one key pointer per (type, id), no torn merges.
func TestConcurrency_ParallelPushes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	st, _ := newStressStore(t)

	const writers = 8
	const perWriter = 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(seed)))
			for i := 0; i < perWriter; i++ {
				id := fmt.Sprintf("%d", rng.Intn(50))
				_, err := st.Push(strata.Document{One: &strata.Resource{
					Type:       "articles",
					ID:         id,
					Attributes: map[string]any{"title": fmt.Sprintf("rev-%d-%d", seed, i)},
				}})
				if err != nil {
					t.Errorf("push failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Every id resolves to exactly one live identity with readable state.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("%d", i)
		key := st.Key("articles", id)
		k2, ok := st.KeyForLid(key.Lid)
		require.True(t, ok)
		assert.Same(t, key, k2)
	}
}

// Readers, writers and a watcher hammering one store: no panics, no
// deadlocks, and the inverse graph stays consistent afterwards.
func TestConcurrency_MixedWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	st, h := newStressStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := st.Push(strata.Document{
		One: &strata.Resource{Type: "people", ID: "p1", Attributes: map[string]any{"name": "Ana"}},
	})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		h.Seed(strata.Document{One: &strata.Resource{
			Type: "articles", ID: fmt.Sprintf("a%d", i),
			Attributes: map[string]any{"title": fmt.Sprintf("seeded %d", i)},
		}})
	}

	var wg sync.WaitGroup

	// Writer: pushes revisions and rewires authors.
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for ctx.Err() == nil {
			id := fmt.Sprintf("a%d", rng.Intn(10))
			_, _ = st.Push(strata.Document{One: &strata.Resource{
				Type: "articles", ID: id,
				Attributes: map[string]any{"views": rng.Intn(1000)},
				Relationships: map[string]core.RelationshipPayload{
					"author": {HasData: true, One: &core.Linkage{Type: "people", ID: "p1"}},
				},
			}})
			time.Sleep(time.Millisecond)
		}
	}()

	// Fetcher: joins whatever fetches are in flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(2))
		for ctx.Err() == nil {
			id := fmt.Sprintf("a%d", rng.Intn(10))
			if fut, err := st.FindRecord(ctx, "articles", id, nil); err == nil {
				_, _ = fut.Wait(ctx)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// Watcher: consumes the change feed.
	feed, err := st.Watch(ctx)
	require.NoError(t, err)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range feed {
		}
	}()

	wg.Wait()

	// Post-chaos: every article claiming Ana as author appears in her
	// collection exactly once.
	ana := st.Key("people", "p1")
	rel, err := st.RelatedRecords(context.Background(), ana, "articles")
	require.NoError(t, err)
	seen := make(map[*strata.Key]bool, len(rel.Data))
	for _, member := range rel.Data {
		assert.False(t, seen[member], "duplicate member in inverse collection")
		seen[member] = true

		back, err := st.RelatedRecord(context.Background(), member, "author")
		require.NoError(t, err)
		assert.Same(t, ana, back.Data)
	}
	t.Logf("survived with %d articles linked", len(rel.Data))
}
