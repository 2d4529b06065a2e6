// Package merkle implements the append-only Merkle accumulator of spec.md
// §4.3: add_data folds pairs eagerly as they complete, finalize_tree pads
// odd-sized levels by duplicating the last leaf-layer hash, and
// pre_merkle_path/post_merkle_path expose inclusion proofs before and after
// finalization. Hashing is Keccak-256 (the rollup's on-chain verifier is an
// EVM contract), adapted from the teacher's pkg/merkle/tree.go — which
// builds a tree once from a full leaf slice — into a streaming accumulator.
package merkle

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotFinalized = errors.New("merkle: tree not finalized")
	ErrOutOfRange   = errors.New("merkle: leaf index out of range")
)

// Position indicates which side a sibling hash sits on.
type Position int

const (
	Left Position = iota
	Right
)

// ProofNode is one step of an inclusion path.
type ProofNode struct {
	Hash     [32]byte
	Position Position
}

// Tree is an append-only binary Merkle accumulator for a single block epoch.
// Not safe for concurrent use without external synchronization — callers
// hold the per-rollup RollupMetadata lock while mutating it, per spec.md §5.
type Tree struct {
	leaves    [][32]byte
	levels    [][][32]byte // levels[0] aliases leaves
	finalized bool
	root      [32]byte
}

// New creates an empty accumulator.
func New() *Tree {
	return &Tree{levels: make([][][32]byte, 1)}
}

// treeJSON is the wire shape of a Tree: levels are derived entirely from
// leaves (via cascade), so only leaves plus the finalize outcome need to
// round-trip. RollupMetadata embeds a *Tree and is persisted through the
// JSON kvstore on every GetMut/Put (spec.md §4.1), so without this the
// accumulator would serialize to its unexported-field-free zero value and
// come back empty on every reload.
type treeJSON struct {
	Leaves    [][32]byte `json:"leaves"`
	Finalized bool       `json:"finalized"`
	Root      [32]byte   `json:"root"`
}

func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeJSON{Leaves: t.leaves, Finalized: t.finalized, Root: t.root})
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var aux treeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Tree{levels: make([][][32]byte, 1)}
	for _, leaf := range aux.Leaves {
		t.appendLeafHash(leaf)
	}
	t.finalized = aux.Finalized
	t.root = aux.Root
	return nil
}

func hashPair(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return [32]byte(crypto.Keccak256(buf))
}

func keccak(data []byte) [32]byte {
	return [32]byte(crypto.Keccak256(data))
}

func (t *Tree) ensureLevel(i int) {
	for len(t.levels) <= i {
		t.levels = append(t.levels, nil)
	}
}

// cascade folds pairs upward starting at level 0 while each touched level
// has an even element count, per spec.md §4.3.
func (t *Tree) cascade() {
	i := 0
	for len(t.levels[i]) > 0 && len(t.levels[i])%2 == 0 {
		n := len(t.levels[i])
		parent := hashPair(t.levels[i][n-2], t.levels[i][n-1])
		t.ensureLevel(i + 1)
		t.levels[i+1] = append(t.levels[i+1], parent)
		i++
	}
}

// AddData hashes data and appends it as the next leaf, returning its index.
func (t *Tree) AddData(data []byte) int {
	return t.appendLeafHash(keccak(data))
}

func (t *Tree) appendLeafHash(h [32]byte) int {
	t.leaves = append(t.leaves, h)
	t.levels[0] = t.leaves
	idx := len(t.leaves) - 1
	t.cascade()
	return idx
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// FinalizeTree pads the tree to a power-of-two leaf count (duplicating the
// last leaf-layer hash repeatedly, folding as it goes) and returns the
// resulting root. Safe to call multiple times; subsequent calls are no-ops
// returning the cached root.
func (t *Tree) FinalizeTree() [32]byte {
	if t.finalized {
		return t.root
	}
	if len(t.leaves) == 0 {
		t.root = keccak(nil)
		t.finalized = true
		return t.root
	}
	for !isPow2(len(t.leaves)) {
		t.appendLeafHash(t.leaves[len(t.leaves)-1])
	}
	top := len(t.levels) - 1
	for top > 0 && len(t.levels[top]) == 0 {
		top--
	}
	t.root = t.levels[top][0]
	t.finalized = true
	return t.root
}

// MerkleRoot returns the current top hash. Before finalization this is the
// highest fully-folded level's sole entry, or the empty-input hash for an
// empty tree; it is not the eventual finalized root unless the leaf count is
// already a power of two.
func (t *Tree) MerkleRoot() [32]byte {
	if t.finalized {
		return t.root
	}
	if len(t.leaves) == 0 {
		return keccak(nil)
	}
	for i := len(t.levels) - 1; i >= 0; i-- {
		if len(t.levels[i]) > 0 {
			return t.levels[i][len(t.levels[i])-1]
		}
	}
	return keccak(nil)
}

// LeafCount returns the number of real (non-padding) leaves added so far.
// Call this before FinalizeTree, which may append padding leaves.
func (t *Tree) LeafCount() int { return len(t.leaves) }

func (t *Tree) Leaf(index int) ([32]byte, error) {
	if index < 0 || index >= len(t.leaves) {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return t.leaves[index], nil
}

// PreMerklePath returns the sibling path for the leaf about to occupy
// `index`, using only already-closed ancestors. Any ancestor not yet
// resolvable (because its sibling subtree hasn't been completed) is omitted
// — the remainder is recoverable from PostMerklePath once the tree
// finalizes. This is what makes the order-commitment path in spec.md §4.4
// step 7 "stable and predictable": every element it does contain can never
// change.
func (t *Tree) PreMerklePath(index int) []ProofNode {
	var path []ProofNode
	level := 0
	li := index
	for {
		if li%2 != 1 {
			break // right sibling doesn't exist yet at this level
		}
		siblingIdx := li - 1
		if level >= len(t.levels) || siblingIdx >= len(t.levels[level]) {
			break
		}
		path = append(path, ProofNode{Hash: t.levels[level][siblingIdx], Position: Left})
		li /= 2
		level++
	}
	return path
}

// PostMerklePath returns the full inclusion path for leaf `index` after
// FinalizeTree has been called.
func (t *Tree) PostMerklePath(index int) ([]ProofNode, error) {
	if !t.finalized {
		return nil, ErrNotFinalized
	}
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}

	var path []ProofNode
	li := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var siblingIdx int
		var pos Position
		if li%2 == 0 {
			siblingIdx = li + 1
			pos = Right
		} else {
			siblingIdx = li - 1
			pos = Left
		}
		if siblingIdx >= len(nodes) {
			break
		}
		path = append(path, ProofNode{Hash: nodes[siblingIdx], Position: pos})
		li /= 2
	}
	return path, nil
}

// VerifyPath recomputes the root from leaf and path and compares it to root
// in constant time.
func VerifyPath(leaf [32]byte, path []ProofNode, root [32]byte) bool {
	cur := leaf
	for _, node := range path {
		if node.Position == Left {
			cur = hashPair(node.Hash, cur)
		} else {
			cur = hashPair(cur, node.Hash)
		}
	}
	return subtle.ConstantTimeCompare(cur[:], root[:]) == 1
}
