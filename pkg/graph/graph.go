// Package graph maintains, per identity and relationship field, the current
// pointer (to-one) or ordered set (to-many) of related identities, with
// inverse-field bookkeeping: mutating one side reflects on the declared
// inverse as one atomic step, so no observer ever sees only half the change.
package graph

import (
	"errors"
	"sync"

	"github.com/aretw0/strata/pkg/core"
	"github.com/aretw0/strata/pkg/identity"
	"github.com/aretw0/strata/pkg/notify"
	"github.com/aretw0/strata/pkg/schema"
)

// Cardinality misuse is a call-site bug, same class as unknown fields.
var (
	// ErrNotToOne means a to-one operation hit a hasMany field.
	ErrNotToOne = errors.New("relationship is not to-one")
	// ErrNotToMany means a to-many operation hit a belongsTo field.
	ErrNotToMany = errors.New("relationship is not to-many")
)

// Flags is the per-edge state, orthogonal to the data itself.
type Flags struct {
	// IsStale forces a refetch on next read.
	IsStale bool
	// HasReceivedData flips when linkage data first arrives (even empty) or
	// a local write fully determines the edge.
	HasReceivedData bool
	// IsEmpty means the relationship is known to be empty.
	IsEmpty bool
	// HasDematerializedInverse means a member was unloaded from the cache,
	// invalidating the cached linkage until re-fetched.
	HasDematerializedInverse bool
	// ShouldForceReload forces a refetch regardless of other state.
	ShouldForceReload bool
	// HasFailedLoadAttempt records that the last fetch rejected.
	HasFailedLoadAttempt bool
}

// ToOne is a read snapshot of a to-one edge.
type ToOne struct {
	// Data is the current related key, nil for an explicit null.
	Data *core.Key
	// Known distinguishes explicit null (true) from never-fetched (false).
	Known bool
	Links map[string]string
	Meta  map[string]any
	Flags Flags
}

// ToMany is a read snapshot of a to-many edge. Data preserves server/local
// order and never contains duplicates.
type ToMany struct {
	Data  []*core.Key
	Links map[string]string
	Meta  map[string]any
	Flags Flags
}

// edge is the internal mutable state for one (owner, field).
type edge struct {
	owner *core.Key
	rel   schema.Relationship

	one      *core.Key
	oneKnown bool
	many     []*core.Key

	links map[string]string
	meta  map[string]any
	flags Flags
}

// Graph is the per-store relationship arena.
type Graph struct {
	mu     sync.Mutex
	schema *schema.Registry
	idents *identity.Registry
	bus    *notify.Bus

	// materialized consults the cache: has this member's record ever been
	// populated? Wired by the store to avoid a package cycle.
	materialized func(*core.Key) bool

	edges map[string]map[string]*edge // lid -> field -> edge
}

// New creates an empty graph.
func New(reg *schema.Registry, idents *identity.Registry, bus *notify.Bus) *Graph {
	return &Graph{
		schema: reg,
		idents: idents,
		bus:    bus,
		edges:  make(map[string]map[string]*edge),
	}
}

// SetMaterializedFunc wires the cache-backed member-loaded predicate.
func (g *Graph) SetMaterializedFunc(fn func(*core.Key) bool) {
	g.mu.Lock()
	g.materialized = fn
	g.mu.Unlock()
}

// relFor resolves the declaration, failing on undeclared fields.
func (g *Graph) relFor(key *core.Key, field string) (schema.Relationship, error) {
	rel, ok := g.schema.Relationship(key.Type, field)
	if !ok {
		return schema.Relationship{}, core.ErrUnknownRelationship
	}
	return rel, nil
}

// edgeFor creates the edge lazily on first access.
func (g *Graph) edgeFor(key *core.Key, rel schema.Relationship) *edge {
	fields := g.edges[key.Lid]
	if fields == nil {
		fields = make(map[string]*edge)
		g.edges[key.Lid] = fields
	}
	e := fields[rel.Name]
	if e == nil {
		e = &edge{owner: key, rel: rel}
		fields[rel.Name] = e
	}
	return e
}

// inverseEdge resolves the mirror edge on target for rel's declared inverse.
// Polymorphic relationships resolve the inverse against the target's own
// concrete type.
func (g *Graph) inverseEdge(rel schema.Relationship, target *core.Key) (*edge, bool) {
	if rel.Inverse == "" || target == nil {
		return nil, false
	}
	invRel, ok := g.schema.Relationship(target.Type, rel.Inverse)
	if !ok {
		return nil, false
	}
	return g.edgeFor(target, invRel), true
}

// RelatedOne returns a snapshot of a to-one edge, creating it lazily.
func (g *Graph) RelatedOne(key *core.Key, field string) (ToOne, error) {
	rel, err := g.relFor(key, field)
	if err != nil {
		return ToOne{}, err
	}
	if rel.Kind != schema.BelongsTo {
		return ToOne{}, ErrNotToOne
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.edgeFor(key, rel)
	return ToOne{Data: e.one, Known: e.oneKnown, Links: e.links, Meta: e.meta, Flags: e.flags}, nil
}

// RelatedMany returns a snapshot of a to-many edge, creating it lazily.
func (g *Graph) RelatedMany(key *core.Key, field string) (ToMany, error) {
	rel, err := g.relFor(key, field)
	if err != nil {
		return ToMany{}, err
	}
	if rel.Kind != schema.HasMany {
		return ToMany{}, ErrNotToMany
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.edgeFor(key, rel)
	return ToMany{
		Data:  append([]*core.Key(nil), e.many...),
		Links: e.links,
		Meta:  e.meta,
		Flags: e.flags,
	}, nil
}

// FlagsFor returns the state flags of an edge.
func (g *Graph) FlagsFor(key *core.Key, field string) (Flags, error) {
	rel, err := g.relFor(key, field)
	if err != nil {
		return Flags{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edgeFor(key, rel).flags, nil
}

// ReplaceRelated sets a to-one edge to value (nil for explicit null),
// mirroring the change on the declared inverse in the same critical section.
func (g *Graph) ReplaceRelated(key *core.Key, field string, value *core.Key) error {
	rel, err := g.relFor(key, field)
	if err != nil {
		return err
	}
	if rel.Kind != schema.BelongsTo {
		return ErrNotToOne
	}

	g.mu.Lock()
	e := g.edgeFor(key, rel)
	touched := g.setToOne(e, value)
	// The write fully determines the edge; a read must not fetch over it and
	// settle the server's linkage on top of the uncommitted change.
	e.flags.HasReceivedData = true
	g.mu.Unlock()

	g.notifyTouched(touched)
	return nil
}

// setToOne is the shared to-one assignment used by local mutation and
// document updates. Returns every edge whose data changed. Caller holds mu.
func (g *Graph) setToOne(e *edge, value *core.Key) []*edge {
	if e.oneKnown && e.one == value {
		// Data unchanged.
		return nil
	}

	touched := []*edge{e}

	// Detach from the previous target's inverse.
	if old := e.one; old != nil {
		if inv, ok := g.inverseEdge(e.rel, old); ok {
			if g.removeMember(inv, e.owner) {
				touched = append(touched, inv)
			}
		}
	}

	e.one = value
	e.oneKnown = true
	e.flags.IsEmpty = value == nil

	// Attach to the new target's inverse.
	if value != nil {
		if inv, ok := g.inverseEdge(e.rel, value); ok {
			touched = append(touched, g.addMember(inv, e.owner)...)
		}
	}
	return touched
}

// AddToRelated inserts values into a to-many edge at index (or appends for a
// negative index), de-duplicated, mirroring each member's inverse.
func (g *Graph) AddToRelated(key *core.Key, field string, values []*core.Key, index int) error {
	rel, err := g.relFor(key, field)
	if err != nil {
		return err
	}
	if rel.Kind != schema.HasMany {
		return ErrNotToMany
	}

	g.mu.Lock()
	e := g.edgeFor(key, rel)
	var touched []*edge
	at := index
	if at < 0 || at > len(e.many) {
		at = len(e.many)
	}
	for _, v := range values {
		if v == nil || containsKey(e.many, v) {
			continue
		}
		e.many = append(e.many, nil)
		copy(e.many[at+1:], e.many[at:])
		e.many[at] = v
		at++
		touched = append(touched, e)
		if inv, ok := g.inverseEdge(rel, v); ok {
			touched = append(touched, g.addMember(inv, key)...)
		}
	}
	if len(touched) > 0 {
		e.flags.IsEmpty = false
		// Same shielding as ReplaceRelated: the membership is locally known.
		e.flags.HasReceivedData = true
	}
	g.mu.Unlock()

	g.notifyTouched(touched)
	return nil
}

// RemoveFromRelated removes values from a to-many edge, mirroring each
// member's inverse.
func (g *Graph) RemoveFromRelated(key *core.Key, field string, values []*core.Key) error {
	rel, err := g.relFor(key, field)
	if err != nil {
		return err
	}
	if rel.Kind != schema.HasMany {
		return ErrNotToMany
	}

	g.mu.Lock()
	e := g.edgeFor(key, rel)
	var touched []*edge
	for _, v := range values {
		if !removeKey(&e.many, v) {
			continue
		}
		touched = append(touched, e)
		if inv, ok := g.inverseEdge(rel, v); ok {
			if g.removeMember(inv, key) {
				touched = append(touched, inv)
			}
		}
	}
	if len(touched) > 0 {
		e.flags.HasReceivedData = true
		e.flags.IsEmpty = len(e.many) == 0
	}
	g.mu.Unlock()

	g.notifyTouched(touched)
	return nil
}

// addMember adds owner to an inverse edge, respecting its cardinality. For a
// belongsTo inverse the previous pointer target is detached first (its own
// mirror cleaned up), which is how one-to-many stays consistent. Returns the
// edges whose data changed. Caller holds mu.
func (g *Graph) addMember(inv *edge, owner *core.Key) []*edge {
	switch inv.rel.Kind {
	case schema.HasMany:
		if containsKey(inv.many, owner) {
			return nil
		}
		inv.many = append(inv.many, owner)
		inv.flags.IsEmpty = false
		return []*edge{inv}
	case schema.BelongsTo:
		if inv.oneKnown && inv.one == owner {
			return nil
		}
		touched := []*edge{inv}
		// The member can only point one way: steal it from the previous
		// holder's collection/pointer.
		if prev := inv.one; prev != nil {
			if prevEdge, ok := g.inverseEdge(inv.rel, prev); ok {
				if g.removeMember(prevEdge, inv.owner) {
					touched = append(touched, prevEdge)
				}
			}
		}
		inv.one = owner
		inv.oneKnown = true
		inv.flags.IsEmpty = owner == nil
		return touched
	default:
		return nil
	}
}

// removeMember removes owner from an inverse edge. Caller holds mu.
func (g *Graph) removeMember(inv *edge, owner *core.Key) bool {
	switch inv.rel.Kind {
	case schema.HasMany:
		return removeKey(&inv.many, owner)
	case schema.BelongsTo:
		if inv.one == owner {
			inv.one = nil
			inv.oneKnown = true
			inv.flags.IsEmpty = true
			return true
		}
		return false
	default:
		return false
	}
}

// UpdateFromPayload applies the relationship portion of an inbound
// normalized document. Absent data leaves the existing edge untouched (the
// server simply didn't include it); explicit null/empty overwrites; a
// linkage list overwrites with the given members, materializing keys as
// needed. Members of polymorphic relationships resolve their concrete type
// from the linkage itself.
func (g *Graph) UpdateFromPayload(key *core.Key, field string, payload core.RelationshipPayload) error {
	rel, err := g.relFor(key, field)
	if err != nil {
		return err
	}

	g.mu.Lock()
	e := g.edgeFor(key, rel)

	if payload.Links != nil {
		e.links = payload.Links
	}
	if payload.Meta != nil {
		e.meta = payload.Meta
	}

	if !payload.HasData {
		g.mu.Unlock()
		if payload.Links != nil || payload.Meta != nil {
			g.bus.Notify(key, notify.KindRelationships, field)
		}
		return nil
	}

	var touched []*edge
	switch rel.Kind {
	case schema.BelongsTo:
		var target *core.Key
		if payload.One != nil {
			target = g.resolveLinkage(rel, *payload.One)
		}
		touched = g.setToOne(e, target)
	case schema.HasMany:
		incoming := make([]*core.Key, 0, len(payload.Many))
		for _, linkage := range payload.Many {
			k := g.resolveLinkage(rel, linkage)
			if k != nil && !containsKey(incoming, k) {
				incoming = append(incoming, k)
			}
		}
		touched = g.setToMany(e, incoming)
	}

	e.flags.HasReceivedData = true
	e.flags.IsStale = false
	e.flags.HasDematerializedInverse = false
	g.mu.Unlock()

	if len(touched) == 0 {
		// Flags moved even if data didn't; readers keying off staleness
		// should still recompute.
		g.bus.Notify(key, notify.KindRelationships, field)
	}
	g.notifyTouched(touched)
	return nil
}

// setToMany overwrites a to-many edge with the incoming member list,
// mirroring removals and additions. Order follows the incoming list exactly.
// Caller holds mu.
func (g *Graph) setToMany(e *edge, incoming []*core.Key) []*edge {
	var touched []*edge

	for _, old := range e.many {
		if containsKey(incoming, old) {
			continue
		}
		touched = append(touched, e)
		if inv, ok := g.inverseEdge(e.rel, old); ok {
			if g.removeMember(inv, e.owner) {
				touched = append(touched, inv)
			}
		}
	}
	for _, nk := range incoming {
		if containsKey(e.many, nk) {
			continue
		}
		touched = append(touched, e)
		if inv, ok := g.inverseEdge(e.rel, nk); ok {
			touched = append(touched, g.addMember(inv, e.owner)...)
		}
	}
	if !keysEqual(e.many, incoming) && len(touched) == 0 {
		// Same membership, different order.
		touched = append(touched, e)
	}

	e.many = incoming
	e.flags.IsEmpty = len(incoming) == 0
	return touched
}

// resolveLinkage materializes the key a linkage refers to. The linkage's own
// type wins (polymorphic); a missing type falls back to the declared target.
func (g *Graph) resolveLinkage(rel schema.Relationship, linkage core.Linkage) *core.Key {
	typ := linkage.Type
	if typ == "" {
		typ = rel.Type
	}
	if linkage.ID == "" && linkage.Lid != "" {
		if k, ok := g.idents.ForLid(linkage.Lid); ok {
			return k
		}
		return nil
	}
	if typ == "" || linkage.ID == "" {
		return nil
	}
	return g.idents.GetOrCreate(typ, linkage.ID)
}

// MarkStale flags the edge so the next read refetches.
func (g *Graph) MarkStale(key *core.Key, field string) error {
	return g.setFlag(key, field, func(f *Flags) { f.IsStale = true })
}

// MarkForceReload flags the edge for an unconditional refetch.
func (g *Graph) MarkForceReload(key *core.Key, field string) error {
	return g.setFlag(key, field, func(f *Flags) { f.ShouldForceReload = true })
}

// MarkLoaded records a fulfilled relationship fetch.
func (g *Graph) MarkLoaded(key *core.Key, field string) error {
	return g.setFlag(key, field, func(f *Flags) {
		f.HasReceivedData = true
		f.IsStale = false
		f.ShouldForceReload = false
		f.HasFailedLoadAttempt = false
		f.HasDematerializedInverse = false
	})
}

// MarkFailed records a rejected relationship fetch. Prior data stays.
func (g *Graph) MarkFailed(key *core.Key, field string) error {
	return g.setFlag(key, field, func(f *Flags) { f.HasFailedLoadAttempt = true })
}

func (g *Graph) setFlag(key *core.Key, field string, apply func(*Flags)) error {
	rel, err := g.relFor(key, field)
	if err != nil {
		return err
	}

	g.mu.Lock()
	e := g.edgeFor(key, rel)
	apply(&e.flags)
	g.mu.Unlock()

	g.bus.Notify(key, notify.KindRelationships, field)
	return nil
}

// NeedsFetch reports whether a read of this edge should go to the network:
// explicit staleness/reload flags, a dematerialized inverse, data never
// received, or members referenced but not yet materialized in the cache.
func (g *Graph) NeedsFetch(key *core.Key, field string) (bool, error) {
	rel, err := g.relFor(key, field)
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.edgeFor(key, rel)
	f := e.flags
	if f.ShouldForceReload || f.IsStale || f.HasDematerializedInverse {
		return true, nil
	}
	if !f.HasReceivedData {
		// Nothing ever arrived; fetch unless the edge is known empty.
		return !f.IsEmpty, nil
	}
	if g.materialized == nil {
		return false, nil
	}
	switch rel.Kind {
	case schema.BelongsTo:
		if e.one != nil && !g.materialized(e.one) {
			return true, nil
		}
	case schema.HasMany:
		for _, member := range e.many {
			if !g.materialized(member) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Disconnect prunes every edge owned by key and removes key from the
// inverse side of each. With dematerialize set (record unloaded, not
// deleted) the counterpart edges are flagged so their cached linkage is
// refetched; a committed deletion is a clean removal instead.
func (g *Graph) Disconnect(key *core.Key, dematerialize bool) {
	g.mu.Lock()

	var touched []*edge

	// Drop the outgoing side, mirroring removals on each counterpart.
	for _, e := range g.edges[key.Lid] {
		switch e.rel.Kind {
		case schema.BelongsTo:
			if e.one != nil {
				if inv, ok := g.inverseEdge(e.rel, e.one); ok {
					if g.removeMember(inv, key) {
						if dematerialize {
							inv.flags.HasDematerializedInverse = true
						}
						touched = append(touched, inv)
					}
				}
			}
		case schema.HasMany:
			for _, member := range e.many {
				if inv, ok := g.inverseEdge(e.rel, member); ok {
					if g.removeMember(inv, key) {
						if dematerialize {
							inv.flags.HasDematerializedInverse = true
						}
						touched = append(touched, inv)
					}
				}
			}
		}
	}
	delete(g.edges, key.Lid)

	// Any edge elsewhere still holding key (no inverse declared on the
	// other side, so the loop above missed it) is swept here.
	for _, fields := range g.edges {
		for _, e := range fields {
			if g.removeMember(e, key) {
				if dematerialize {
					e.flags.HasDematerializedInverse = true
				}
				touched = append(touched, e)
			}
		}
	}

	g.mu.Unlock()
	g.notifyTouched(touched)
}

// EdgeCount returns the number of live edges (for introspection).
func (g *Graph) EdgeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, fields := range g.edges {
		n += len(fields)
	}
	return n
}

func (g *Graph) notifyTouched(touched []*edge) {
	for _, e := range touched {
		g.bus.Notify(e.owner, notify.KindRelationships, e.rel.Name)
	}
}

func containsKey(keys []*core.Key, k *core.Key) bool {
	for _, existing := range keys {
		if existing == k {
			return true
		}
	}
	return false
}

func removeKey(keys *[]*core.Key, k *core.Key) bool {
	for i, existing := range *keys {
		if existing == k {
			*keys = append((*keys)[:i], (*keys)[i+1:]...)
			return true
		}
	}
	return false
}

func keysEqual(a, b []*core.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
