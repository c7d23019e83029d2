// Package user defines the canonical user identifier.
package user

// ID is an opaque user identifier. It is created from external input
// (the authentication handshake, database rows, event payloads) and is
// never interpreted by the gateway.
type ID string

func (id ID) String() string {
	return string(id)
}
