package types

// Metadata is an open key-value map persisted as JSONB.
type Metadata map[string]interface{}

// Clone returns a shallow copy, never nil.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
