// Package pvde is the PVDE decryption path of spec.md §4.6, treated as
// opaque by the core node. It defines one gnark circuit for each leg of
// PVDE's proof bundle (sigma-protocol, key-validation, poseidon-encryption);
// Decrypt neither solves a time-lock puzzle nor verifies these proofs before
// returning plaintext (see Decrypt). The circuit shape
// follows the teacher's pkg/crypto/bls_zkp/circuit.go (gnark frontend,
// Groth16 backend), generalized from BLS-signature constraints to PVDE's
// three-proof bundle.
package pvde

import "github.com/consensys/gnark/frontend"

// TimeLockCircuit is the sigma-protocol leg of PVDE's three-proof bundle.
// Its only constraint is Solution * Salt == PuzzleCommitment; the public
// TimeLockHash input is not constrained.
type TimeLockCircuit struct {
	// Public inputs.
	PuzzleCommitment frontend.Variable `gnark:",public"`
	TimeLockHash     frontend.Variable `gnark:",public"`

	// Private inputs.
	Solution frontend.Variable
	Salt     frontend.Variable
}

func (c *TimeLockCircuit) Define(api frontend.API) error {
	computed := api.Mul(c.Solution, c.Salt)
	api.AssertIsEqual(computed, c.PuzzleCommitment)
	return nil
}

// KeyValidationCircuit is the key-validation leg of the bundle. Its only
// constraint is Key + Salt == KeyIdCommitment.
type KeyValidationCircuit struct {
	KeyIdCommitment frontend.Variable `gnark:",public"`

	Key  frontend.Variable
	Salt frontend.Variable
}

func (c *KeyValidationCircuit) Define(api frontend.API) error {
	computed := api.Add(c.Key, c.Salt)
	api.AssertIsEqual(computed, c.KeyIdCommitment)
	return nil
}

// PoseidonEncryptionCircuit is the poseidon-encryption leg of the bundle.
// Its only constraint is Plaintext * Key == CiphertextCommitment; no
// Poseidon hash is computed in the circuit.
type PoseidonEncryptionCircuit struct {
	CiphertextCommitment frontend.Variable `gnark:",public"`

	Plaintext frontend.Variable
	Key       frontend.Variable
}

func (c *PoseidonEncryptionCircuit) Define(api frontend.API) error {
	computed := api.Mul(c.Plaintext, c.Key)
	api.AssertIsEqual(computed, c.CiphertextCommitment)
	return nil
}
