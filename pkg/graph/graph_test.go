package graph

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/identity"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/schema"
)

func newTestGraph(t *testing.T) (*Graph, *identity.Registry) {
	t.Helper()

	reg := schema.NewRegistry()
	if err := reg.Define(schema.Type{
		Name:       "articles",
		Attributes: []string{"title"},
		Relationships: map[string]schema.Relationship{
			"author": {Kind: schema.BelongsTo, Type: "people", Inverse: "articles"},
			"tags":   {Kind: schema.HasMany, Type: "tags"},
		},
	}); err != nil {
		t.Fatalf("failed to define articles: %v", err)
	}
	if err := reg.Define(schema.Type{
		Name:       "people",
		Attributes: []string{"name"},
		Relationships: map[string]schema.Relationship{
			"articles": {Kind: schema.HasMany, Type: "articles", Inverse: "author"},
		},
	}); err != nil {
		t.Fatalf("failed to define people: %v", err)
	}
	if err := reg.Define(schema.Type{Name: "tags", Attributes: []string{"label"}}); err != nil {
		t.Fatalf("failed to define tags: %v", err)
	}
	if err := reg.Check(); err != nil {
		t.Fatalf("schema check failed: %v", err)
	}

	idents := identity.New()
	return New(reg, idents, notify.New(nil)), idents
}

func members(t *testing.T, g *Graph, key *core.Key, field string) []*core.Key {
	t.Helper()
	snap, err := g.RelatedMany(key, field)
	if err != nil {
		t.Fatalf("RelatedMany(%s.%s) failed: %v", key.String(), field, err)
	}
	return snap.Data
}

func pointer(t *testing.T, g *Graph, key *core.Key, field string) *core.Key {
	t.Helper()
	snap, err := g.RelatedOne(key, field)
	if err != nil {
		t.Fatalf("RelatedOne(%s.%s) failed: %v", key.String(), field, err)
	}
	return snap.Data
}

func TestGraph_ReplaceRelatedMirrorsInverse(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")

	if err := g.ReplaceRelated(article, "author", author); err != nil {
		t.Fatalf("ReplaceRelated failed: %v", err)
	}

	if got := pointer(t, g, article, "author"); got != author {
		t.Errorf("expected author to be set")
	}
	if got := members(t, g, author, "articles"); len(got) != 1 || got[0] != article {
		t.Errorf("expected inverse collection to gain the article, got %v", got)
	}

	// Replacing detaches from the old inverse and attaches to the new one.
	other := idents.GetOrCreate("people", "10")
	if err := g.ReplaceRelated(article, "author", other); err != nil {
		t.Fatalf("ReplaceRelated failed: %v", err)
	}
	if got := members(t, g, author, "articles"); len(got) != 0 {
		t.Errorf("expected old inverse to lose the article, got %v", got)
	}
	if got := members(t, g, other, "articles"); len(got) != 1 || got[0] != article {
		t.Errorf("expected new inverse to gain the article, got %v", got)
	}

	// Explicit null clears both sides.
	if err := g.ReplaceRelated(article, "author", nil); err != nil {
		t.Fatalf("ReplaceRelated(nil) failed: %v", err)
	}
	snap, _ := g.RelatedOne(article, "author")
	if snap.Data != nil || !snap.Known {
		t.Errorf("expected known null, got %+v", snap)
	}
	if got := members(t, g, other, "articles"); len(got) != 0 {
		t.Errorf("expected inverse cleared, got %v", got)
	}
}

func TestGraph_AddToRelatedStealsFromPreviousHolder(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	alice := idents.GetOrCreate("people", "a")
	bob := idents.GetOrCreate("people", "b")

	if err := g.AddToRelated(alice, "articles", []*core.Key{article}, -1); err != nil {
		t.Fatalf("AddToRelated failed: %v", err)
	}
	if got := pointer(t, g, article, "author"); got != alice {
		t.Errorf("expected belongsTo mirror to point at alice")
	}

	// The article can only have one author: adding it to bob's collection
	// steals it from alice's.
	if err := g.AddToRelated(bob, "articles", []*core.Key{article}, -1); err != nil {
		t.Fatalf("AddToRelated failed: %v", err)
	}
	if got := members(t, g, alice, "articles"); len(got) != 0 {
		t.Errorf("expected alice to lose the article, got %v", got)
	}
	if got := pointer(t, g, article, "author"); got != bob {
		t.Errorf("expected author to move to bob")
	}
}

func TestGraph_AddToRelatedOrderAndDedup(t *testing.T) {
	g, idents := newTestGraph(t)
	author := idents.GetOrCreate("people", "9")
	a1 := idents.GetOrCreate("articles", "1")
	a2 := idents.GetOrCreate("articles", "2")
	a3 := idents.GetOrCreate("articles", "3")

	if err := g.AddToRelated(author, "articles", []*core.Key{a1, a3}, -1); err != nil {
		t.Fatalf("AddToRelated failed: %v", err)
	}
	// Insert in the middle; a duplicate is skipped.
	if err := g.AddToRelated(author, "articles", []*core.Key{a2, a1}, 1); err != nil {
		t.Fatalf("AddToRelated failed: %v", err)
	}

	got := members(t, g, author, "articles")
	want := []*core.Key{a1, a2, a3}
	if len(got) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i].String(), got[i].String())
		}
	}
}

func TestGraph_RemoveFromRelatedMirrors(t *testing.T) {
	g, idents := newTestGraph(t)
	author := idents.GetOrCreate("people", "9")
	a1 := idents.GetOrCreate("articles", "1")
	a2 := idents.GetOrCreate("articles", "2")
	_ = g.AddToRelated(author, "articles", []*core.Key{a1, a2}, -1)

	if err := g.RemoveFromRelated(author, "articles", []*core.Key{a1}); err != nil {
		t.Fatalf("RemoveFromRelated failed: %v", err)
	}
	if got := members(t, g, author, "articles"); len(got) != 1 || got[0] != a2 {
		t.Errorf("expected only a2 left, got %v", got)
	}
	snap, _ := g.RelatedOne(a1, "author")
	if snap.Data != nil {
		t.Errorf("expected a1's author cleared, got %v", snap.Data)
	}
}

func TestGraph_CardinalityErrors(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")

	if err := g.ReplaceRelated(author, "articles", article); !errors.Is(err, ErrNotToOne) {
		t.Errorf("expected ErrNotToOne, got %v", err)
	}
	if err := g.AddToRelated(article, "author", []*core.Key{author}, -1); !errors.Is(err, ErrNotToMany) {
		t.Errorf("expected ErrNotToMany, got %v", err)
	}
	if _, err := g.RelatedOne(article, "bogus"); !errors.Is(err, core.ErrUnknownRelationship) {
		t.Errorf("expected ErrUnknownRelationship, got %v", err)
	}
}

func TestGraph_UpdateFromPayloadAbsentNullList(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")
	_ = g.ReplaceRelated(article, "author", author)

	// Absent data: edge untouched, links still merge.
	err := g.UpdateFromPayload(article, "author", core.RelationshipPayload{
		Links: map[string]string{"related": "/articles/1/author"},
	})
	if err != nil {
		t.Fatalf("UpdateFromPayload failed: %v", err)
	}
	snap, _ := g.RelatedOne(article, "author")
	if snap.Data != author {
		t.Errorf("absent data must leave the edge untouched, got %v", snap.Data)
	}
	if snap.Links["related"] == "" {
		t.Errorf("expected links to merge")
	}

	// Explicit null clears and mirrors.
	err = g.UpdateFromPayload(article, "author", core.RelationshipPayload{HasData: true})
	if err != nil {
		t.Fatalf("UpdateFromPayload failed: %v", err)
	}
	snap, _ = g.RelatedOne(article, "author")
	if snap.Data != nil || !snap.Known {
		t.Errorf("expected known null, got %+v", snap)
	}
	if !snap.Flags.HasReceivedData || !snap.Flags.IsEmpty {
		t.Errorf("expected HasReceivedData and IsEmpty, got %+v", snap.Flags)
	}
	if got := members(t, g, author, "articles"); len(got) != 0 {
		t.Errorf("expected inverse cleared, got %v", got)
	}
}

func TestGraph_UpdateFromPayloadListReplacesAndDedupes(t *testing.T) {
	g, idents := newTestGraph(t)
	author := idents.GetOrCreate("people", "9")
	a1 := idents.GetOrCreate("articles", "1")
	_ = g.AddToRelated(author, "articles", []*core.Key{a1}, -1)

	err := g.UpdateFromPayload(author, "articles", core.RelationshipPayload{
		HasData: true,
		ToMany:  true,
		Many: []core.Linkage{
			{Type: "articles", ID: "2"},
			{Type: "articles", ID: "3"},
			{Type: "articles", ID: "2"}, // duplicate linkage
		},
	})
	if err != nil {
		t.Fatalf("UpdateFromPayload failed: %v", err)
	}

	got := members(t, g, author, "articles")
	if len(got) != 2 {
		t.Fatalf("expected 2 members, got %d", len(got))
	}
	if got[0].ID != "2" || got[1].ID != "3" {
		t.Errorf("expected incoming order [2 3], got [%s %s]", got[0].ID, got[1].ID)
	}

	// The displaced member's belongsTo mirror is cleared.
	snap, _ := g.RelatedOne(a1, "author")
	if snap.Data != nil {
		t.Errorf("expected removed member's author cleared, got %v", snap.Data)
	}
	// New members point back.
	snap, _ = g.RelatedOne(got[0], "author")
	if snap.Data != author {
		t.Errorf("expected new member's author set")
	}
}

func TestGraph_UpdateFromPayloadLidLinkage(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	local := idents.CreateLocal("people")

	err := g.UpdateFromPayload(article, "author", core.RelationshipPayload{
		HasData: true,
		One:     &core.Linkage{Type: "people", Lid: local.Lid},
	})
	if err != nil {
		t.Fatalf("UpdateFromPayload failed: %v", err)
	}
	if got := pointer(t, g, article, "author"); got != local {
		t.Errorf("expected lid linkage to resolve to the local key")
	}
}

func TestGraph_NeedsFetch(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")

	// Never received: fetch.
	needs, err := g.NeedsFetch(article, "author")
	if err != nil {
		t.Fatalf("NeedsFetch failed: %v", err)
	}
	if !needs {
		t.Errorf("expected fetch for a never-received edge")
	}

	// Known empty via explicit null: no fetch.
	_ = g.UpdateFromPayload(article, "author", core.RelationshipPayload{HasData: true})
	if needs, _ = g.NeedsFetch(article, "author"); needs {
		t.Errorf("expected no fetch for a known-empty edge")
	}

	// Stale flag forces one.
	_ = g.MarkStale(article, "author")
	if needs, _ = g.NeedsFetch(article, "author"); !needs {
		t.Errorf("expected fetch for a stale edge")
	}
	_ = g.MarkLoaded(article, "author")
	if needs, _ = g.NeedsFetch(article, "author"); needs {
		t.Errorf("expected no fetch after MarkLoaded")
	}
	_ = g.MarkForceReload(article, "author")
	if needs, _ = g.NeedsFetch(article, "author"); !needs {
		t.Errorf("expected fetch for a force-reload edge")
	}
}

func TestGraph_LocalMutationSatisfiesReads(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")
	g.SetMaterializedFunc(func(*core.Key) bool { return true })

	// A locally-set to-one edge is fully known; no fetch may run over it.
	if err := g.ReplaceRelated(article, "author", author); err != nil {
		t.Fatalf("ReplaceRelated failed: %v", err)
	}
	flags, _ := g.FlagsFor(article, "author")
	if !flags.HasReceivedData {
		t.Errorf("expected a local write to mark the edge as having data")
	}
	if needs, _ := g.NeedsFetch(article, "author"); needs {
		t.Errorf("a read of a locally-set, materialized edge must not fetch")
	}

	// Same for local to-many membership changes.
	a2 := idents.GetOrCreate("articles", "2")
	if err := g.AddToRelated(author, "articles", []*core.Key{a2}, -1); err != nil {
		t.Fatalf("AddToRelated failed: %v", err)
	}
	if needs, _ := g.NeedsFetch(author, "articles"); needs {
		t.Errorf("a read of a locally-built collection must not fetch")
	}

	if err := g.RemoveFromRelated(author, "articles", []*core.Key{a2, article}); err != nil {
		t.Fatalf("RemoveFromRelated failed: %v", err)
	}
	flags, _ = g.FlagsFor(author, "articles")
	if !flags.HasReceivedData || !flags.IsEmpty {
		t.Errorf("expected an emptied collection to stay known, got %+v", flags)
	}
	if needs, _ := g.NeedsFetch(author, "articles"); needs {
		t.Errorf("an emptied local collection must not fetch")
	}

	// Explicit staleness still wins over local knowledge.
	_ = g.MarkStale(article, "author")
	if needs, _ := g.NeedsFetch(article, "author"); !needs {
		t.Errorf("a stale edge must refetch regardless of local data")
	}
}

func TestGraph_NeedsFetchUnmaterializedMembers(t *testing.T) {
	g, idents := newTestGraph(t)
	author := idents.GetOrCreate("people", "9")

	populated := map[string]bool{}
	g.SetMaterializedFunc(func(k *core.Key) bool { return populated[k.Lid] })

	_ = g.UpdateFromPayload(author, "articles", core.RelationshipPayload{
		HasData: true,
		ToMany:  true,
		Many:    []core.Linkage{{Type: "articles", ID: "1"}},
	})

	needs, err := g.NeedsFetch(author, "articles")
	if err != nil {
		t.Fatalf("NeedsFetch failed: %v", err)
	}
	if !needs {
		t.Errorf("expected fetch while members are unmaterialized")
	}

	member := members(t, g, author, "articles")[0]
	populated[member.Lid] = true
	if needs, _ = g.NeedsFetch(author, "articles"); needs {
		t.Errorf("expected no fetch once every member is materialized")
	}
}

func TestGraph_PolymorphicLinkageResolvesConcreteTypes(t *testing.T) {
	reg := schema.NewRegistry()
	// A collection holds items of any type; each concrete type points back.
	if err := reg.Define(schema.Type{
		Name: "collections",
		Relationships: map[string]schema.Relationship{
			"items": {Kind: schema.HasMany, Polymorphic: true, Inverse: "collection"},
		},
	}); err != nil {
		t.Fatalf("failed to define collections: %v", err)
	}
	for _, name := range []string{"articles", "videos"} {
		if err := reg.Define(schema.Type{
			Name: name,
			Relationships: map[string]schema.Relationship{
				"collection": {Kind: schema.BelongsTo, Type: "collections", Inverse: "items"},
			},
		}); err != nil {
			t.Fatalf("failed to define %s: %v", name, err)
		}
	}
	if err := reg.Check(); err != nil {
		t.Fatalf("schema check failed: %v", err)
	}

	idents := identity.New()
	g := New(reg, idents, notify.New(nil))
	col := idents.GetOrCreate("collections", "c1")

	err := g.UpdateFromPayload(col, "items", core.RelationshipPayload{
		HasData: true,
		ToMany:  true,
		Many: []core.Linkage{
			{Type: "articles", ID: "1"},
			{Type: "videos", ID: "7"},
			{ID: "9"}, // no concrete type, no declared fallback: dropped
		},
	})
	if err != nil {
		t.Fatalf("UpdateFromPayload failed: %v", err)
	}

	got := members(t, g, col, "items")
	if len(got) != 2 {
		t.Fatalf("expected 2 members, got %d", len(got))
	}
	if got[0].Type != "articles" || got[0].ID != "1" {
		t.Errorf("expected articles:1 first, got %s", got[0].String())
	}
	if got[1].Type != "videos" || got[1].ID != "7" {
		t.Errorf("expected videos:7 second, got %s", got[1].String())
	}

	// The inverse resolves against each member's own type.
	for _, member := range got {
		if back := pointer(t, g, member, "collection"); back != col {
			t.Errorf("expected %s.collection to point back at the collection", member.String())
		}
	}

	// Removing one member clears only that member's mirror.
	if err := g.RemoveFromRelated(col, "items", []*core.Key{got[0]}); err != nil {
		t.Fatalf("RemoveFromRelated failed: %v", err)
	}
	if back := pointer(t, g, got[0], "collection"); back != nil {
		t.Errorf("expected the removed member's mirror cleared, got %v", back)
	}
	if back := pointer(t, g, got[1], "collection"); back != col {
		t.Errorf("expected the remaining member's mirror intact")
	}
}

func TestGraph_DisconnectDematerializes(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")
	_ = g.ReplaceRelated(article, "author", author)

	g.Disconnect(article, true)

	if got := members(t, g, author, "articles"); len(got) != 0 {
		t.Errorf("expected article removed from inverse, got %v", got)
	}
	flags, _ := g.FlagsFor(author, "articles")
	if !flags.HasDematerializedInverse {
		t.Errorf("expected HasDematerializedInverse on the counterpart")
	}
	if needs, _ := g.NeedsFetch(author, "articles"); !needs {
		t.Errorf("expected counterpart to need a refetch")
	}
}

func TestGraph_DisconnectCommittedDeletion(t *testing.T) {
	g, idents := newTestGraph(t)
	article := idents.GetOrCreate("articles", "1")
	author := idents.GetOrCreate("people", "9")
	_ = g.ReplaceRelated(article, "author", author)
	_ = g.MarkLoaded(author, "articles")

	g.Disconnect(article, false)

	if got := members(t, g, author, "articles"); len(got) != 0 {
		t.Errorf("expected article removed from inverse, got %v", got)
	}
	flags, _ := g.FlagsFor(author, "articles")
	if flags.HasDematerializedInverse {
		t.Errorf("a committed deletion must not flag the counterpart")
	}
}

// TestGraph_RandomizedInverseConsistency churns the one-to-many pair with
// random operations and checks both sides stay mirror images.
func TestGraph_RandomizedInverseConsistency(t *testing.T) {
	g, idents := newTestGraph(t)
	rng := rand.New(rand.NewSource(42))

	var articles, people []*core.Key
	for i := 0; i < 8; i++ {
		articles = append(articles, idents.GetOrCreate("articles", string(rune('a'+i))))
	}
	for i := 0; i < 4; i++ {
		people = append(people, idents.GetOrCreate("people", string(rune('p'+i))))
	}

	for step := 0; step < 500; step++ {
		article := articles[rng.Intn(len(articles))]
		person := people[rng.Intn(len(people))]

		switch rng.Intn(4) {
		case 0:
			_ = g.ReplaceRelated(article, "author", person)
		case 1:
			_ = g.ReplaceRelated(article, "author", nil)
		case 2:
			_ = g.AddToRelated(person, "articles", []*core.Key{article}, rng.Intn(3)-1)
		case 3:
			_ = g.RemoveFromRelated(person, "articles", []*core.Key{article})
		}
	}

	for _, article := range articles {
		author := pointer(t, g, article, "author")
		for _, person := range people {
			inCollection := containsKey(members(t, g, person, "articles"), article)
			if (author == person) != inCollection {
				t.Fatalf("inconsistent pair: %s.author=%v but membership in %s.articles=%v",
					article.String(), author, person.String(), inCollection)
			}
		}
	}

	// No collection may contain duplicates.
	for _, person := range people {
		seen := map[*core.Key]bool{}
		for _, member := range members(t, g, person, "articles") {
			if seen[member] {
				t.Fatalf("duplicate member %s in %s.articles", member.String(), person.String())
			}
			seen[member] = true
		}
	}
}
