package core

// Key is the stable identity handle for one logical resource.
// It represents a (type, id) pair independent of how many times the resource
// is fetched or referenced. Keys are created and owned by the identity
// registry; everything else holds *Key and compares by pointer.
type Key struct {
	// Type is the resource type name (e.g. "person").
	Type string

	// ID is the server-assigned id. Empty until assigned (new records).
	// It transitions at most once from empty to a value.
	ID string

	// Lid is the locally-unique id. Always present, survives id assignment.
	Lid string
}

// HasID reports whether the server id has been assigned.
func (k *Key) HasID() bool {
	return k != nil && k.ID != ""
}

// String renders the key for logs ("person:1" or "person:@<lid>").
func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	if k.ID != "" {
		return k.Type + ":" + k.ID
	}
	return k.Type + ":@" + k.Lid
}
