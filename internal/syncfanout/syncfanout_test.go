package syncfanout

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/kvstore"
	"github.com/radiusxyz/tx-orderer/internal/signer"
	"github.com/radiusxyz/tx-orderer/internal/types"
)

func newTestSigner(t *testing.T) (*signer.Signer, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)

	dir := t.TempDir()
	path := filepath.Join(dir, "key.hex")
	raw := "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	s, err := signer.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, addr
}

func TestReceiveRawTransactionIsIdempotent(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	leaderSigner, leaderAddr := newTestSigner(t)
	receiver := NewReceiver(store)

	tx := types.RawTransaction{RollupId: "rollup-a", RollupBlockHeight: 1, Order: 0, RawData: []byte("tx-1")}
	sig, err := leaderSigner.Sign(tx.RawData)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := receiver.ReceiveRawTransaction(context.Background(), "rollup-a", tx, sig, leaderAddr); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := receiver.ReceiveRawTransaction(context.Background(), "rollup-a", tx, sig, leaderAddr); err != nil {
		t.Fatalf("duplicate receive should be a no-op, got: %v", err)
	}

	stored, err := kvstore.Get[types.RawTransaction](store, tx.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored.RawData) != "tx-1" {
		t.Fatalf("unexpected stored transaction: %+v", stored)
	}
}

func TestReceiveRawTransactionRejectsWrongSigner(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	impostor, _ := newTestSigner(t)
	_, leaderAddr := newTestSigner(t)
	receiver := NewReceiver(store)

	tx := types.RawTransaction{RollupId: "rollup-b", RollupBlockHeight: 1, Order: 0, RawData: []byte("tx-1")}
	sig, err := impostor.Sign(tx.RawData)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := receiver.ReceiveRawTransaction(context.Background(), "rollup-b", tx, sig, leaderAddr); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestReceiveBlockIsIdempotent(t *testing.T) {
	store := kvstore.OpenMemory()
	defer store.Close()

	leaderSigner, leaderAddr := newTestSigner(t)
	receiver := NewReceiver(store)

	commitment := [32]byte{1, 2, 3}
	sig, err := leaderSigner.Sign(commitment[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	block := types.Block{RollupId: "rollup-c", Height: 1, LeaderAddress: leaderAddr, LeaderSignature: sig, BlockCommitment: commitment}

	if err := receiver.ReceiveBlock(context.Background(), block); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := receiver.ReceiveBlock(context.Background(), block); err != nil {
		t.Fatalf("duplicate receive should be a no-op, got: %v", err)
	}
}
