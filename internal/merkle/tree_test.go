package merkle

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEmptyTree(t *testing.T) {
	tree := New()
	root := tree.FinalizeTree()
	want := keccak(nil)
	if root != want {
		t.Errorf("empty tree root mismatch: got %x, want %x", root, want)
	}
}

func TestSingleLeaf(t *testing.T) {
	tree := New()
	tree.AddData([]byte("tx-a"))
	root := tree.FinalizeTree()

	want := crypto.Keccak256([]byte("tx-a"))
	if root != [32]byte(want) {
		t.Errorf("single leaf root mismatch: got %x, want %x", root, want)
	}
}

func TestTwoLeaves(t *testing.T) {
	tree := New()
	tree.AddData([]byte("tx-a"))
	tree.AddData([]byte("tx-b"))
	root := tree.FinalizeTree()

	ha := keccak([]byte("tx-a"))
	hb := keccak([]byte("tx-b"))
	want := hashPair(ha, hb)
	if root != want {
		t.Errorf("two leaf root mismatch: got %x, want %x", root, want)
	}
}

func TestThreeLeavesPadding(t *testing.T) {
	tree := New()
	tree.AddData([]byte("tx-a"))
	tree.AddData([]byte("tx-b"))
	tree.AddData([]byte("tx-c"))
	root := tree.FinalizeTree()

	ha := keccak([]byte("tx-a"))
	hb := keccak([]byte("tx-b"))
	hc := keccak([]byte("tx-c"))
	want := hashPair(hashPair(ha, hb), hashPair(hc, hc))
	if root != want {
		t.Errorf("three leaf root mismatch: got %x, want %x", root, want)
	}
}

func TestPostMerklePathVerifies(t *testing.T) {
	tree := New()
	for _, d := range []string{"a", "b", "c", "d", "e"} {
		tree.AddData([]byte(d))
	}
	root := tree.FinalizeTree()

	for i := 0; i < 5; i++ {
		leaf, err := tree.Leaf(i)
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		path, err := tree.PostMerklePath(i)
		if err != nil {
			t.Fatalf("path %d: %v", i, err)
		}
		if !VerifyPath(leaf, path, root) {
			t.Errorf("leaf %d failed to verify against root", i)
		}
	}
}

func TestPreMerklePathEmptyForFirstLeaf(t *testing.T) {
	tree := New()
	path := tree.PreMerklePath(0)
	if len(path) != 0 {
		t.Errorf("expected empty pre-merkle path for order 0, got %v", path)
	}
}

func TestPreMerklePathStablePrefixOfPost(t *testing.T) {
	tree := New()
	tree.AddData([]byte("tx-a"))
	pre := tree.PreMerklePath(1) // about to add tx-b at index 1
	tree.AddData([]byte("tx-b"))
	tree.AddData([]byte("tx-c"))
	tree.AddData([]byte("tx-d"))
	tree.FinalizeTree()

	post, err := tree.PostMerklePath(1)
	if err != nil {
		t.Fatalf("post path: %v", err)
	}
	if len(pre) > len(post) {
		t.Fatalf("pre-path longer than post-path")
	}
	for i, node := range pre {
		if node != post[i] {
			t.Errorf("pre-path node %d diverges from post-path: %+v vs %+v", i, node, post[i])
		}
	}
}
