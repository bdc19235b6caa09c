package core

// Document is the normalized resource document the core consumes.
// It is the boundary shape: whatever serializer/adapter produced it
// (JSON:API, REST, fixtures) is invisible to the cache.
type Document struct {
	// One is set when the document carries a single primary resource.
	One *Resource

	// Many is set when the document carries a list of primary resources.
	// One and Many are mutually exclusive; both nil means "data: null".
	Many []Resource

	// Included holds side-loaded resources pushed alongside the primary data.
	Included []Resource
}

// IsEmpty reports whether the document carries no primary data at all.
func (d Document) IsEmpty() bool {
	return d.One == nil && d.Many == nil
}

// Resource is one normalized resource object: type, id, attributes and
// relationship payloads. Attributes are opaque values; the cache stores them
// as-is.
type Resource struct {
	Type string
	ID   string

	// Lid carries a client-generated id so a server response can be matched
	// back to a record created locally before it had a server id.
	Lid string

	Attributes    map[string]any
	Relationships map[string]RelationshipPayload
}

// Linkage is a reference to another resource inside a relationship payload.
// Polymorphic relationships resolve the concrete type from Linkage.Type.
type Linkage struct {
	Type string
	ID   string
	Lid  string
}

// RelationshipPayload is the relationship portion of a resource object.
//
// The distinction between "the server said nothing" and "the server said
// empty" matters: HasData=false means the data key was absent and the
// existing edge must be left untouched; HasData=true with a nil/empty value
// is an explicit empty that overwrites.
type RelationshipPayload struct {
	// HasData reports whether linkage data was present at all.
	HasData bool

	// ToMany distinguishes list linkage from single linkage when HasData.
	ToMany bool

	// One is the single linkage for a to-one payload. Nil with HasData=true
	// means explicit null.
	One *Linkage

	// Many is the linkage list for a to-many payload.
	Many []Linkage

	Links map[string]string
	Meta  map[string]any
}
