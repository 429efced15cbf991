package storage

import (
	"github.com/solverforge/settler/pkg/order"
)

// Ledger key schema for Pebble storage:
//
//   fill:<56-byte-uid> → cumulative filled amount (big-endian big.Int bytes)
//   pre:<56-byte-uid>  → 0x01 when a pre-signature is on record
//
// Deleting a key is the storage-reclaim path; an absent fill entry reads
// as zero.
const (
	prefixFill    = "fill:"
	prefixPreSign = "pre:"
)

func fillKey(uid order.UID) []byte {
	return append([]byte(prefixFill), uid[:]...)
}

func preSignKey(uid order.UID) []byte {
	return append([]byte(prefixPreSign), uid[:]...)
}
