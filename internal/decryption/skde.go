package decryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// decryptSkdeCiphertext is the opaque `decrypt(skde_params, ciphertext, key)
// -> plaintext_json` contract of spec.md §4.6. SKDE's actual threshold-key
// derivation and lattice math is external (the DKG service); once a key is
// in hand, the cipher itself is a conventional AEAD over the key the DKG
// handed back. No pack example ships a real SKDE implementation, so this
// uses the standard library's AES-GCM rather than inventing lattice
// cryptography — recorded in DESIGN.md as a stdlib-grounded exception.
func decryptSkdeCiphertext(params SkdeParams, ciphertext []byte, key SecretKey) ([]byte, error) {
	block, err := aes.NewCipher(deriveAESKey(key))
	if err != nil {
		return nil, fmt.Errorf("skde: derive cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("skde: derive gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("skde: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("skde: open: %w", err)
	}
	return plaintext, nil
}

// deriveAESKey folds an arbitrary-length SKDE key into AES-256's fixed key
// size.
func deriveAESKey(key SecretKey) []byte {
	out := make([]byte, 32)
	for i, b := range key {
		out[i%32] ^= b
	}
	return out
}
