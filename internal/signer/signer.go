// Package signer wraps the local node's ECDSA identity: signing cluster
// messages and order commitments, and verifying messages claimed to be from
// an elected leader. Grounded on the teacher's pkg/ethereum/client.go key
// handling (crypto.HexToECDSA, crypto.PubkeyToAddress, crypto.Sign), adapted
// from one-shot transaction-signing helpers into a long-lived identity held
// by AppState.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/radiusxyz/tx-orderer/internal/types"
	"github.com/radiusxyz/tx-orderer/internal/xerrors"
)

// Signer holds one ECDSA keypair and signs/verifies with it.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    types.Address
}

// Load reads a hex-encoded private key from path (0x-prefixed or not).
func Load(path string) (*Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSyscall, "signer.Load", err)
	}
	hexKey := strings.TrimSpace(strings.TrimPrefix(string(raw), "0x"))
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConfig, "signer.Load", fmt.Errorf("parse private key: %w", err))
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, xerrors.New(xerrors.KindConfig, "signer.Load", "public key is not ECDSA")
	}
	return &Signer{privateKey: privateKey, address: crypto.PubkeyToAddress(*publicKey)}, nil
}

// Address returns the signer's public identity.
func (s *Signer) Address() types.Address { return s.address }

// Sign produces an ECDSA signature over the Keccak-256 hash of message.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	digest := crypto.Keccak256(message)
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSignature, "signer.Sign", err)
	}
	return sig, nil
}

// TransactOpts derives a bind.TransactOpts for submitting Ethereum
// transactions under this identity, grounded on the teacher's
// pkg/ethereum/client.go CreateTransactor (bind.NewKeyedTransactorWithChainID),
// kept here rather than exposing the raw private key to callers.
func (s *Signer) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSignature, "signer.TransactOpts", err)
	}
	return auth, nil
}

// Verify recovers the signer address from sig over message and compares it
// to want.
func Verify(message, sig []byte, want types.Address) (bool, error) {
	digest := crypto.Keccak256(message)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, xerrors.Wrap(xerrors.KindSignature, "signer.Verify", err)
	}
	return crypto.PubkeyToAddress(*pub) == want, nil
}

// VerifyLeader is the cluster-RPC receive-side check of spec.md §8: "the
// receiver verifies the signature is by the leader elected for the
// referenced block height."
func VerifyLeader(message, sig []byte, leader types.Address) error {
	ok, err := Verify(message, sig, leader)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.New(xerrors.KindSignature, "signer.VerifyLeader", "signature is not from the elected leader")
	}
	return nil
}
