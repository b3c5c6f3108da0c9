// Package smt implements the sparse Merkle tree engine (spec §4.2): an
// index-keyed accumulator over state hashes (spec §9 "Cyclic or
// self-referential graphs ... represented as index-keyed maps"), never an
// owning tree of pointers.
package smt

import (
	"encoding/binary"
	"sync"

	"dsm-storage-node/internal/cryptoprim"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

// Depth is the fixed tree depth; 256 matches the 32-byte (256-bit) leaf
// hash domain so every state hash addresses a unique leaf slot.
const Depth = 256

// emptySubtreeHash[i] is the hash of an empty subtree of height i, computed
// bottom-up: emptySubtreeHash[0] is the empty-leaf hash, emptySubtreeHash[i]
// = Hash(emptySubtreeHash[i-1], emptySubtreeHash[i-1]).
var emptySubtreeHash [Depth + 1][32]byte

func init() {
	emptySubtreeHash[0] = cryptoprim.DomainHash("DSM_SMT_EMPTY_LEAF")
	for i := 1; i <= Depth; i++ {
		emptySubtreeHash[i] = cryptoprim.Hash(emptySubtreeHash[i-1][:], emptySubtreeHash[i-1][:])
	}
}

// Tree is a sparse Merkle tree keyed by state hash. Only non-empty leaves
// and their ancestor nodes are stored; everything else is implied by
// emptySubtreeHash.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string][32]byte // "<depth>:<pathPrefixHex>" -> node hash
	root  [32]byte
}

// New returns an empty tree whose root is the canonical all-empty root.
func New() *Tree {
	return &Tree{
		nodes: make(map[string][32]byte),
		root:  emptySubtreeHash[Depth],
	}
}

func keyAt(depth int, path [32]byte) string {
	// only the top `depth` bits of path are significant at this level
	nbytes := (depth + 7) / 8
	prefix := make([]byte, nbytes)
	copy(prefix, path[:nbytes])
	if r := depth % 8; r != 0 {
		prefix[nbytes-1] &= byte(0xFF << uint(8-r))
	}
	return string(rune(depth)) + string(prefix)
}

// leafPath derives a fixed 256-bit path from a state hash: the state hash
// itself, since both are 32-byte (256-bit) values.
func leafPath(stateHash [32]byte) [32]byte { return stateHash }

func bit(path [32]byte, i int) bool {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return (path[byteIdx]>>bitIdx)&1 == 1
}

// InsertState inserts a new leaf keyed by stateHash and returns the tree's
// new root. The leaf value binds the full state transition (prevHash, op,
// balanceDeltas, index) so a proof authenticates the whole transition, not
// just the state hash's presence.
func (t *Tree) InsertState(stateHash, prevHash [32]byte, op string, balanceDeltas map[string]int64, index uint64) [32]byte {
	leaf := leafValue(stateHash, prevHash, op, balanceDeltas, index)

	t.mu.Lock()
	defer t.mu.Unlock()

	path := leafPath(stateHash)
	t.nodes[keyAt(Depth, path)] = leaf

	cur := leaf
	for d := Depth - 1; d >= 0; d-- {
		sibling := t.siblingAt(d+1, path)
		if bit(path, d) {
			cur = cryptoprim.Hash(sibling[:], cur[:])
		} else {
			cur = cryptoprim.Hash(cur[:], sibling[:])
		}
		t.nodes[keyAt(d, path)] = cur
	}
	t.root = cur
	return t.root
}

func leafValue(stateHash, prevHash [32]byte, op string, balanceDeltas map[string]int64, index uint64) [32]byte {
	idx := make([]byte, 8)
	for i := 0; i < 8; i++ {
		idx[i] = byte(index >> (8 * i))
	}
	return cryptoprim.DomainHash("DSM_SMT_LEAF", stateHash[:], prevHash[:], []byte(op), idx, deltasBytes(balanceDeltas))
}

// deltasBytes serializes balanceDeltas deterministically as
// Σ(token ∥ delta_le8) in map-key sorted order, mirroring
// internal/chain's state-hash delta encoding, so the leaf commits to the
// full set of balance changes rather than just the state hash that
// happens to summarize them upstream.
func deltasBytes(balanceDeltas map[string]int64) []byte {
	if len(balanceDeltas) == 0 {
		return nil
	}
	keys := make([]string, 0, len(balanceDeltas))
	for k := range balanceDeltas {
		keys = append(keys, k)
	}
	sortStrings(keys)

	var out []byte
	for _, k := range keys {
		out = append(out, []byte(k)...)
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(balanceDeltas[k]))
		out = append(out, buf...)
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// siblingAt returns the stored (or canonical empty) hash of the sibling
// subtree to `path` at `depth`, assuming the caller already holds the lock
// (depth here is the level being looked up, one deeper than the level the
// caller is computing).
func (t *Tree) siblingAt(depth int, path [32]byte) [32]byte {
	siblingPath := flipBit(path, depth-1)
	if h, ok := t.nodes[keyAt(depth, siblingPath)]; ok {
		return h
	}
	return emptySubtreeHash[Depth-depth]
}

func flipBit(path [32]byte, i int) [32]byte {
	out := path
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	out[byteIdx] ^= 1 << bitIdx
	return out
}

// Root returns the tree's current accumulator value.
func (t *Tree) Root() [32]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// GenerateProof builds an inclusion proof for a previously inserted state.
func (t *Tree) GenerateProof(stateHash, prevHash [32]byte, op string, balanceDeltas map[string]int64, index uint64) (*model.SMTProof, error) {
	leaf := leafValue(stateHash, prevHash, op, balanceDeltas, index)
	path := leafPath(stateHash)

	t.mu.RLock()
	defer t.mu.RUnlock()

	stored, ok := t.nodes[keyAt(Depth, path)]
	if !ok || stored != leaf {
		return nil, errs.New(errs.NotFound, "state not present in tree")
	}

	siblings := make([][32]byte, Depth)
	bits := make([]bool, Depth)
	for d := Depth; d >= 1; d-- {
		siblings[Depth-d] = t.siblingAt(d, path)
		bits[Depth-d] = bit(path, d-1)
	}
	return &model.SMTProof{Leaf: leaf, Siblings: siblings, Bits: bits, Root: t.root}, nil
}

// VerifyProof recomputes the root implied by proof against stateHash's leaf
// value and checks it matches the proof's recorded root.
func VerifyProof(proof *model.SMTProof, leafValueToVerify [32]byte) bool {
	if proof == nil || len(proof.Siblings) != Depth || len(proof.Bits) != Depth {
		return false
	}
	if leafValueToVerify != proof.Leaf {
		return false
	}
	cur := proof.Leaf
	for i := 0; i < Depth; i++ {
		sibling := proof.Siblings[i]
		if proof.Bits[i] {
			cur = cryptoprim.Hash(sibling[:], cur[:])
		} else {
			cur = cryptoprim.Hash(cur[:], sibling[:])
		}
	}
	return cur == proof.Root
}

// LeafValue exposes the proof-binding leaf hash so callers (chain manager)
// can verify a proof without re-deriving the formula themselves.
func LeafValue(stateHash, prevHash [32]byte, op string, balanceDeltas map[string]int64, index uint64) [32]byte {
	return leafValue(stateHash, prevHash, op, balanceDeltas, index)
}
