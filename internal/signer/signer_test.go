package signer

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/types"
)

func writeTestKey(t *testing.T) (string, types.Address) {
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
		t.Fatalf("write key file: %v", err)
	}
	return path, addr
}

func TestSignAndVerify(t *testing.T) {
	path, wantAddr := writeTestKey(t)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Address() != wantAddr {
		t.Fatalf("address mismatch: got %s, want %s", s.Address(), wantAddr)
	}

	msg := []byte("finalize_block:R:100")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := Verify(msg, sig, wantAddr)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify against signer address")
	}
}

func TestVerifyLeaderRejectsWrongSigner(t *testing.T) {
	path, _ := writeTestKey(t)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	otherKey, _ := crypto.GenerateKey()
	otherAddr := crypto.PubkeyToAddress(otherKey.PublicKey)

	msg := []byte("sync_block:R:100")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := VerifyLeader(msg, sig, otherAddr); err == nil {
		t.Fatal("expected VerifyLeader to reject a signature from a different signer")
	}
}
