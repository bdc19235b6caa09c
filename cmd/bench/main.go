package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aretw0/strata"
	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/schema"
)

func main() {
	count := flag.Int("count", 10000, "Number of records to push")
	waiters := flag.Int("waiters", 100, "Concurrent findRecord callers per identity")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	reg := schema.NewRegistry()
	if err := reg.Define(schema.Type{
		Name:       "articles",
		Attributes: []string{"title", "body"},
		Relationships: map[string]schema.Relationship{
			"author": {Name: "author", Kind: schema.BelongsTo, Type: "people", Inverse: "articles"},
		},
	}); err != nil {
		panic(err)
	}
	if err := reg.Define(schema.Type{
		Name:       "people",
		Attributes: []string{"name"},
		Relationships: map[string]schema.Relationship{
			"articles": {Name: "articles", Kind: schema.HasMany, Type: "articles", Inverse: "author"},
		},
	}); err != nil {
		panic(err)
	}

	handler := memory.New()
	st, err := strata.New(
		strata.WithSchema(reg),
		strata.WithHandler(handler),
		strata.WithLogger(logger),
	)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	// 1. Push throughput: N articles, each linked to one of N/10 authors.
	fmt.Printf("Pushing %d records...\n", *count)
	startPush := time.Now()
	for i := 0; i < *count; i++ {
		authorID := fmt.Sprintf("p%d", i%(*count/10+1))
		doc := core.Document{One: &core.Resource{
			Type:       "articles",
			ID:         fmt.Sprintf("a%d", i),
			Attributes: map[string]any{"title": fmt.Sprintf("Article %d", i)},
			Relationships: map[string]core.RelationshipPayload{
				"author": {HasData: true, One: &core.Linkage{Type: "people", ID: authorID}},
			},
		}}
		if _, err := st.Push(doc); err != nil {
			panic(err)
		}
	}
	pushDuration := time.Since(startPush)

	// 2. Dedup: many concurrent findRecord calls for one identity should
	// reach the handler once.
	handler.Seed(core.Document{One: &core.Resource{
		Type:       "articles",
		ID:         "hot",
		Attributes: map[string]any{"title": "Hot"},
	}})
	release := handler.Hold()

	ctx := context.Background()
	before := handler.Requests()
	startFind := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fut, err := st.FindRecord(ctx, "articles", "hot", nil)
			if err != nil {
				panic(err)
			}
			if _, err := fut.Wait(ctx); err != nil {
				panic(err)
			}
		}()
	}
	release()
	wg.Wait()
	findDuration := time.Since(startFind)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d records):\n", *count)
	fmt.Printf("  Push:    %v (%.0f records/s)\n", pushDuration, float64(*count)/pushDuration.Seconds())
	fmt.Printf("  Find:    %v for %d waiters, %d transport call(s)\n", findDuration, *waiters, handler.Requests()-before)
	fmt.Printf("--------------------------------------------------\n")
}
