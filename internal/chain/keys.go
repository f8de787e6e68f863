package chain

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Twox128 is FRAME's twox_128 hasher: two seeded xxhash64 digests, little-endian.
func Twox128(data []byte) []byte {
	out := make([]byte, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		_, _ = d.Write(data)
		binary.LittleEndian.PutUint64(out[seed*8:], d.Sum64())
	}
	return out
}

// Blake2_128 is a 16-byte blake2b digest.
func Blake2_128(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// Only fails for sizes outside 1..64 or oversized keys.
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// Blake2_128Concat hashes data and appends it in clear, so keys stay recoverable.
func Blake2_128Concat(data []byte) []byte {
	return append(Blake2_128(data), data...)
}

// StoragePrefix is the key of a plain storage value, or the common prefix of a map.
func StoragePrefix(module, item string) []byte {
	return append(Twox128([]byte(module)), Twox128([]byte(item))...)
}

// MapKey builds the key of one Blake2_128Concat map entry.
func MapKey(module, item string, encodedKey []byte) []byte {
	return append(StoragePrefix(module, item), Blake2_128Concat(encodedKey)...)
}
