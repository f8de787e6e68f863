// Package chain is a minimal Substrate node client.
//
// It speaks JSON-RPC over a single WebSocket connection and exposes only the
// reads the referendum watcher needs: the best block height, block hashes,
// plain storage values and full storage map iteration. Calls are synchronous;
// the client serializes them on one connection and does not retry.
//
// Storage keys are built the way FRAME lays them out:
// twox128(pallet) ++ twox128(item) [++ hasher(key)]. Values come back as raw
// SCALE bytes; Decoder covers the handful of primitive encodings callers need.
// Runtime metadata is decoded with go-substrate-rpc-client's types so callers
// can follow runtime-specific layouts.
package chain
