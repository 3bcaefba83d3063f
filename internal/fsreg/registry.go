package fsreg

import "hash/fnv"

// FilePerm is the replicated slice of a file's permission bits: only the
// readonly flag and the Unix user-execute bit travel the wire. Group/other
// bits are neither observed nor set.
type FilePerm struct {
	Readonly   bool `json:"readonly"`
	Executable bool `json:"executable"`
}

// Kind discriminates an Entry as a directory or a file.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Entry is the registry's record for a single path: either a directory, or
// a file with a content hash and optional permission bits.
type Entry struct {
	Kind    Kind
	Hash    uint64
	Perm    *FilePerm
}

// Registry maps relative paths to their last-observed filesystem state.
// It carries no internal lock: the caller (the router, holding
// router.RegistryGuard's mutex) owns synchronization, so lock ownership
// stays explicit at the call site instead of hidden inside the type.
type Registry map[RelPath]Entry

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return make(Registry)
}

// HashBytes computes the fixed 64-bit content digest every peer must agree
// on. FNV-1a (stdlib hash/fnv) is used rather than a third-party hash: all
// peers run the same Go runtime and never observe each other's hash
// implementation directly, only the resulting uint64, so the stability
// FNV-1a already provides is sufficient. See DESIGN.md for the full
// standard-library justification.
func HashBytes(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
