// Package keys defines the key-manager collaborator interface consumed by
// the NCA reader (spec §6) and a file-backed reference implementation
// grounded in the teacher's pkg/keys (global key map) and pkg/keys/
// derivation.go (KEK/titlekek/key-area-key derivation), generalized from a
// package-level singleton into an injected value per spec §9's "singleton
// key manager" design note.
package keys

import "github.com/falk/nca-go/pkg/aescrypto"

// Kind identifies which derived key a Manager lookup is for, per spec §6.
type Kind int

const (
	KindKeyArea Kind = iota
	KindTitlekey
	KindTitlekek
	KindHeader
)

// AreaType distinguishes the three key-area-key slots an NCA key index can
// select (Application/Ocean/System), matching the teacher's
// keyAreaKeys[32][3] derivation table.
type AreaType int

const (
	AreaApplication AreaType = iota
	AreaOcean
	AreaSystem
)

// Manager is the collaborator interface the NCA reader derives section and
// header keys through. f1/f2 are kind-specific selectors: for KindKeyArea,
// f1 is the master key id and f2 the AreaType; for KindTitlekey, f1/f2 are
// the rights ID's low/high 8 bytes; for KindTitlekek, f1 is the master key
// id; for KindHeader, both are unused.
type Manager interface {
	HasKey(kind Kind, f1, f2 uint64) bool
	GetKey128(kind Kind, f1, f2 uint64) (aescrypto.Key128, error)
	GetKey256(kind Kind, f1, f2 uint64) (aescrypto.Key256, error)
}

// MasterKeyCount bounds the master_key_XX generation table, matching the
// teacher's fixed [32] arrays.
const MasterKeyCount = 32
