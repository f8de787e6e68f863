package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnect wraps every failure to reach the node at dial time.
	ErrConnect = errors.New("chain: unable to connect")
	// ErrNotFound is returned when the node has no block for a height.
	ErrNotFound = errors.New("chain: not found")
	// ErrShortInput is returned by Decoder when a value is truncated.
	ErrShortInput = errors.New("scale: short input")
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("chain: %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// Hash is a 32-byte block hash.
type Hash [32]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a 0x-prefixed hex block hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := DecodeHex(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("chain: hash has %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// StorageEntry is one (key, value) pair of a storage map, both raw.
// Key is the full storage key including the pallet/item prefix.
type StorageEntry struct {
	Key   []byte
	Value []byte
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("chain: bad hex: %w", err)
	}
	return b, nil
}

// EncodeHex encodes b as a 0x-prefixed hex string.
func EncodeHex(b []byte) string { return "0x" + hex.EncodeToString(b) }
