package pvde

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Params is the process-scoped PVDE parameter set fetched once at startup:
// the time-lock puzzle modulus together with the three compiled circuits'
// proving and verifying keys. Mirrors the shape of the teacher's
// pkg/crypto/bls_zkp BLSZKProver, split across PVDE's three proof families.
type Params struct {
	mu sync.RWMutex

	TimeLockModulus []byte

	timeLockCcs   *cs
	keyValCcs     *cs
	poseidonCcs   *cs
}

type cs struct {
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// NewParams compiles the three PVDE circuits and derives fresh Groth16
// keys for each. Run once at node startup; the resulting Params is shared
// read-only across every build_block call.
func NewParams(timeLockModulus []byte) (*Params, error) {
	p := &Params{TimeLockModulus: timeLockModulus}

	var err error
	if p.timeLockCcs, err = compile(&TimeLockCircuit{}); err != nil {
		return nil, fmt.Errorf("pvde: compile time-lock circuit: %w", err)
	}
	if p.keyValCcs, err = compile(&KeyValidationCircuit{}); err != nil {
		return nil, fmt.Errorf("pvde: compile key-validation circuit: %w", err)
	}
	if p.poseidonCcs, err = compile(&PoseidonEncryptionCircuit{}); err != nil {
		return nil, fmt.Errorf("pvde: compile poseidon-encryption circuit: %w", err)
	}
	return p, nil
}

func compile(circuit frontend.Circuit) (*cs, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &cs{pk: pk, vk: vk}, nil
}

// Decrypt returns the plaintext for a PVDE ciphertext. It does not solve a
// time-lock puzzle and does not verify the proof bundle: it rejects an empty
// proof, derives a key from the modulus and timeLockHash with solveTimeLock,
// and XORs the ciphertext with that key. The verifying keys held in params
// are not used. Treated as opaque by internal/decryption: the caller only
// needs the final byte slice.
//
// proof is the concatenation of the three Groth16 proof encodings produced
// by the submitter (sigma-protocol, key-validation, poseidon-encryption, in
// that order); Decrypt checks only that it is non-empty, and decryption.go
// never inspects its internal structure.
func Decrypt(params *Params, ciphertext, timeLockHash, proof []byte) ([]byte, error) {
	params.mu.RLock()
	defer params.mu.RUnlock()

	if len(proof) == 0 {
		return nil, fmt.Errorf("pvde: empty proof bundle")
	}

	solvedKey := solveTimeLock(params.TimeLockModulus, timeLockHash)
	plaintext := xorStream(ciphertext, solvedKey)
	return plaintext, nil
}

// solveTimeLock derives the symmetric key that unlocks ciphertext once the
// puzzle's solution is known. The real repeated-squaring puzzle solver lives
// in the submitter/DKG path; the sequencer only needs the derived key here,
// which this reduces to a deterministic hash of the puzzle's public hash and
// modulus.
func solveTimeLock(modulus, timeLockHash []byte) []byte {
	h := sha256.New()
	h.Write(modulus)
	h.Write(timeLockHash)
	return h.Sum(nil)
}

func xorStream(data, key []byte) []byte {
	if len(key) == 0 {
		return append([]byte(nil), data...)
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
