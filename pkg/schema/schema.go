// Package schema declares the shape of resource types: their attributes and
// the relationships (with cardinality and inverses) the graph derives edges
// from. Definitions are data-independent; once checked they never change for
// the lifetime of a store.
package schema

import (
	"fmt"
)

// Kind is the cardinality of a relationship.
type Kind int

const (
	// BelongsTo is a to-one relationship.
	BelongsTo Kind = iota + 1
	// HasMany is a to-many relationship.
	HasMany
)

func (k Kind) String() string {
	switch k {
	case BelongsTo:
		return "belongsTo"
	case HasMany:
		return "hasMany"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Relationship declares one edge field on a resource type.
type Relationship struct {
	// Name is the field name (e.g. "tags").
	Name string

	// Kind is BelongsTo or HasMany.
	Kind Kind

	// Type is the related resource type. Empty for polymorphic
	// relationships, which resolve the concrete type from the linkage
	// itself.
	Type string

	// Inverse names the relationship field on the related type that mirrors
	// this one. Empty means no inverse bookkeeping.
	Inverse string

	// Polymorphic relationships accept members of any declared type.
	Polymorphic bool
}

// Type declares one resource type.
type Type struct {
	// Name is the resource type name (e.g. "person").
	Name string

	// Attributes lists the declared attribute fields. Writes to undeclared
	// attributes are rejected.
	Attributes []string

	// Relationships maps field name to declaration.
	Relationships map[string]Relationship
}

// HasAttribute reports whether the attribute is declared.
func (t *Type) HasAttribute(name string) bool {
	for _, a := range t.Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// Error reports an invalid schema declaration. It is raised at definition
// time (Define/Check), never during data mutation.
type Error struct {
	Type   string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema: %s.%s: %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema: %s: %s", e.Type, e.Reason)
}

// Registry holds the declared types for one store.
type Registry struct {
	types map[string]*Type
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Define adds a type declaration. Redefining a type name is an error.
func (r *Registry) Define(t Type) error {
	if t.Name == "" {
		return &Error{Type: t.Name, Reason: "type name cannot be empty"}
	}
	if _, exists := r.types[t.Name]; exists {
		return &Error{Type: t.Name, Reason: "type already defined"}
	}
	if t.Relationships == nil {
		t.Relationships = make(map[string]Relationship)
	}
	for name, rel := range t.Relationships {
		if rel.Name == "" {
			rel.Name = name
			t.Relationships[name] = rel
		}
		if rel.Name != name {
			return &Error{Type: t.Name, Field: name, Reason: "relationship name does not match its map key"}
		}
		if rel.Kind != BelongsTo && rel.Kind != HasMany {
			return &Error{Type: t.Name, Field: name, Reason: "relationship kind must be belongsTo or hasMany"}
		}
		if rel.Type == "" && !rel.Polymorphic {
			return &Error{Type: t.Name, Field: name, Reason: "relationship must declare a target type or be polymorphic"}
		}
	}
	copied := t
	r.types[t.Name] = &copied
	return nil
}

// Lookup returns the declaration for a type name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Relationship returns the declaration for a (type, field) pair.
func (r *Registry) Relationship(typeName, field string) (Relationship, bool) {
	t, ok := r.types[typeName]
	if !ok {
		return Relationship{}, false
	}
	rel, ok := t.Relationships[field]
	return rel, ok
}

// Check validates every declared inverse pair: the inverse field must exist
// on the target type, point back at the declaring type, and (if it names an
// inverse itself) name the declaring field. Mismatches fail here, at
// definition time, not at mutation time.
func (r *Registry) Check() error {
	for _, t := range r.types {
		for _, rel := range t.Relationships {
			if rel.Inverse == "" || rel.Polymorphic {
				// Polymorphic inverses are resolved per-linkage at runtime;
				// there is no single target type to check against.
				continue
			}
			target, ok := r.types[rel.Type]
			if !ok {
				return &Error{Type: t.Name, Field: rel.Name, Reason: fmt.Sprintf("target type %q is not defined", rel.Type)}
			}
			inv, ok := target.Relationships[rel.Inverse]
			if !ok {
				return &Error{Type: t.Name, Field: rel.Name, Reason: fmt.Sprintf("inverse %s.%s is not declared", rel.Type, rel.Inverse)}
			}
			if !inv.Polymorphic && inv.Type != t.Name {
				return &Error{Type: t.Name, Field: rel.Name, Reason: fmt.Sprintf("inverse %s.%s targets %q, expected %q", rel.Type, rel.Inverse, inv.Type, t.Name)}
			}
			if inv.Inverse != "" && inv.Inverse != rel.Name {
				return &Error{Type: t.Name, Field: rel.Name, Reason: fmt.Sprintf("inverse %s.%s declares inverse %q, expected %q", rel.Type, rel.Inverse, inv.Inverse, rel.Name)}
			}
		}
	}
	return nil
}

// Types returns the declared type names (unordered).
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}
