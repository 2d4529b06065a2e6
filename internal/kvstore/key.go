package kvstore

import (
	"encoding/binary"
)

// Key is a deterministically-serialized tuple key. Each entity in
// internal/types builds one of these from its identifying fields instead of
// relying on macro-generated key derivation (per spec.md §9's re-architecture
// note for "macro-generated key derivation").
type Key struct {
	namespace string
	parts     [][]byte
}

// NewKey starts a key under the given namespace (the entity name, e.g.
// "Cluster", "RollupMetadata").
func NewKey(namespace string) Key {
	return Key{namespace: namespace}
}

func (k Key) withBytes(b []byte) Key {
	parts := make([][]byte, len(k.parts)+1)
	copy(parts, k.parts)
	parts[len(k.parts)] = b
	return Key{namespace: k.namespace, parts: parts}
}

// String appends a length-prefixed string component.
func (k Key) String(s string) Key {
	buf := make([]byte, binary.MaxVarintLen64+len(s))
	n := binary.PutUvarint(buf, uint64(len(s)))
	copy(buf[n:], s)
	return k.withBytes(buf[:n+len(s)])
}

// Uint64 appends a varint-encoded integer component.
func (k Key) Uint64(v uint64) Key {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	return k.withBytes(buf[:n])
}

// Bytes appends a length-prefixed raw byte component.
func (k Key) Bytes(b []byte) Key {
	buf := make([]byte, binary.MaxVarintLen64+len(b))
	n := binary.PutUvarint(buf, uint64(len(b)))
	copy(buf[n:], b)
	return k.withBytes(buf[:n+len(b)])
}

// Encode serializes the key to the byte slice used as the underlying store key.
func (k Key) Encode() []byte {
	total := len(k.namespace) + 1
	for _, p := range k.parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	out = append(out, []byte(k.namespace)...)
	out = append(out, 0x00) // namespace separator; namespaces never contain NUL
	for _, p := range k.parts {
		out = append(out, p...)
	}
	return out
}

// String representation used only for logging and map keys of in-process
// locks, never for storage.
func (k Key) CacheKey() string {
	return string(k.Encode())
}
