// Package identity owns the user model: registration, credential hashes,
// and lookup by the public identifier used in all externally addressable
// references.
package identity
