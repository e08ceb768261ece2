// Package hash computes content fingerprints of SSA graphs. Fingerprints
// key the artefact cache, so the serialization format is frozen.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/chazu/regc/ssa"
)

// Graph computes the SHA-256 fingerprint of every function in ctx.
//
// Two graphs that differ only in parameter or array names, or in the node
// ordinals the builder happened to assign, produce the same fingerprint.
func Graph(ctx *ssa.Context) [32]byte {
	return sha256.Sum256(Serialize(ctx))
}

// Key returns the cache key for compiling entry from ctx. Unlike Graph it
// covers the entry's parameter names, which compiled programs bind
// arguments by.
func Key(ctx *ssa.Context, entry string) string {
	h := sha256.New()
	h.Write(Serialize(ctx))
	if fn, ok := ctx.FunctionByName(entry); ok {
		var n [4]byte
		for _, p := range fn.Params {
			name := ""
			if v, ok := ctx.Node(p).(*ssa.Variable); ok {
				name = v.Name
			}
			binary.BigEndian.PutUint32(n[:], uint32(len(name)))
			h.Write(n[:])
			h.Write([]byte(name))
		}
	}
	return hex.EncodeToString(h.Sum(nil)) + ":" + entry
}
