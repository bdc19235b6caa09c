package schema

import (
	"testing"
)

func articlesPeople() *Registry {
	reg := NewRegistry()
	_ = reg.Define(Type{
		Name:       "articles",
		Attributes: []string{"title"},
		Relationships: map[string]Relationship{
			"author": {Kind: BelongsTo, Type: "people", Inverse: "articles"},
		},
	})
	_ = reg.Define(Type{
		Name:       "people",
		Attributes: []string{"name"},
		Relationships: map[string]Relationship{
			"articles": {Kind: HasMany, Type: "articles", Inverse: "author"},
		},
	})
	return reg
}

func TestRegistry_DefineValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Define(Type{Name: ""}); err == nil {
		t.Errorf("expected error for empty type name")
	}

	if err := reg.Define(Type{Name: "tags"}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := reg.Define(Type{Name: "tags"}); err == nil {
		t.Errorf("expected error on redefinition")
	}

	err := reg.Define(Type{
		Name: "posts",
		Relationships: map[string]Relationship{
			"tags": {Kind: 0, Type: "tags"},
		},
	})
	if err == nil {
		t.Errorf("expected error for missing relationship kind")
	}

	err = reg.Define(Type{
		Name: "posts",
		Relationships: map[string]Relationship{
			"tags": {Kind: HasMany},
		},
	})
	if err == nil {
		t.Errorf("expected error for relationship without target type")
	}

	// Polymorphic relationships are allowed to omit the target type.
	err = reg.Define(Type{
		Name: "comments",
		Relationships: map[string]Relationship{
			"subject": {Kind: BelongsTo, Polymorphic: true},
		},
	})
	if err != nil {
		t.Errorf("polymorphic relationship rejected: %v", err)
	}
}

func TestRegistry_DefineFillsRelationshipName(t *testing.T) {
	reg := NewRegistry()
	err := reg.Define(Type{
		Name: "posts",
		Relationships: map[string]Relationship{
			"tags": {Kind: HasMany, Type: "tags"},
		},
	})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	rel, ok := reg.Relationship("posts", "tags")
	if !ok {
		t.Fatalf("relationship lookup missed")
	}
	if rel.Name != "tags" {
		t.Errorf("expected map key as relationship name, got %q", rel.Name)
	}
}

func TestRegistry_CheckInversePairs(t *testing.T) {
	if err := articlesPeople().Check(); err != nil {
		t.Errorf("valid inverse pair rejected: %v", err)
	}

	// Inverse naming a missing field.
	reg := NewRegistry()
	_ = reg.Define(Type{
		Name: "articles",
		Relationships: map[string]Relationship{
			"author": {Kind: BelongsTo, Type: "people", Inverse: "posts"},
		},
	})
	_ = reg.Define(Type{Name: "people"})
	if err := reg.Check(); err == nil {
		t.Errorf("expected error for undeclared inverse field")
	}

	// Inverse pointing at the wrong type.
	reg = NewRegistry()
	_ = reg.Define(Type{
		Name: "articles",
		Relationships: map[string]Relationship{
			"author": {Kind: BelongsTo, Type: "people", Inverse: "articles"},
		},
	})
	_ = reg.Define(Type{
		Name: "people",
		Relationships: map[string]Relationship{
			"articles": {Kind: HasMany, Type: "comments", Inverse: "author"},
		},
	})
	_ = reg.Define(Type{
		Name: "comments",
		Relationships: map[string]Relationship{
			"author": {Kind: BelongsTo, Type: "people"},
		},
	})
	if err := reg.Check(); err == nil {
		t.Errorf("expected error for inverse targeting another type")
	}

	// Asymmetric inverse-of-inverse.
	reg = NewRegistry()
	_ = reg.Define(Type{
		Name: "articles",
		Relationships: map[string]Relationship{
			"author": {Kind: BelongsTo, Type: "people", Inverse: "articles"},
			"editor": {Kind: BelongsTo, Type: "people"},
		},
	})
	_ = reg.Define(Type{
		Name: "people",
		Relationships: map[string]Relationship{
			"articles": {Kind: HasMany, Type: "articles", Inverse: "editor"},
		},
	})
	if err := reg.Check(); err == nil {
		t.Errorf("expected error for asymmetric inverse declarations")
	}
}

func TestFromYAML(t *testing.T) {
	doc := []byte(`
types:
  - name: articles
    attributes: [title, body]
    relationships:
      - name: author
        kind: belongsTo
        type: people
        inverse: articles
  - name: people
    attributes: [name]
    relationships:
      - name: articles
        kind: has_many
        type: articles
        inverse: author
`)
	reg, err := FromYAML(doc)
	if err != nil {
		t.Fatalf("FromYAML failed: %v", err)
	}

	typ, ok := reg.Lookup("articles")
	if !ok {
		t.Fatalf("articles not defined")
	}
	if !typ.HasAttribute("title") || typ.HasAttribute("missing") {
		t.Errorf("attribute declarations wrong: %v", typ.Attributes)
	}

	rel, ok := reg.Relationship("people", "articles")
	if !ok || rel.Kind != HasMany {
		t.Errorf("expected hasMany people.articles, got %+v", rel)
	}
}

func TestFromYAML_Invalid(t *testing.T) {
	if _, err := FromYAML([]byte("types: [")); err == nil {
		t.Errorf("expected parse error")
	}

	// Unknown kind.
	_, err := FromYAML([]byte(`
types:
  - name: articles
    relationships:
      - name: author
        kind: hasOne
        type: people
`))
	if err == nil {
		t.Errorf("expected error for unknown relationship kind")
	}

	// Check runs: broken inverse pairs fail at load time.
	_, err = FromYAML([]byte(`
types:
  - name: articles
    relationships:
      - name: author
        kind: belongsTo
        type: people
        inverse: missing
  - name: people
`))
	if err == nil {
		t.Errorf("expected error for broken inverse pair")
	}
}
