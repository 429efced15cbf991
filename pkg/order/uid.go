package order

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrMalformedUID is returned when a byte or hex string does not decode
// to exactly UIDLength bytes.
var ErrMalformedUID = errors.New("malformed order uid")

// UIDLength is 32 bytes of order digest, 20 bytes of owner address and
// 4 bytes of big-endian expiry timestamp.
const UIDLength = 56

// UID is the globally unique order identifier and the fill-ledger key.
// Two orders with identical content but different owners or expiries are
// distinct entities.
type UID [UIDLength]byte

// ComputeUID packs the order digest, owner and expiry into a UID.
// Deterministic and injective over its inputs up to digest collisions.
func ComputeUID(digest common.Hash, owner common.Address, validTo uint32) UID {
	var uid UID
	copy(uid[:32], digest[:])
	copy(uid[32:52], owner[:])
	binary.BigEndian.PutUint32(uid[52:], validTo)
	return uid
}

// Parts is the exact inverse of ComputeUID.
func (u UID) Parts() (digest common.Hash, owner common.Address, validTo uint32) {
	copy(digest[:], u[:32])
	copy(owner[:], u[32:52])
	validTo = binary.BigEndian.Uint32(u[52:])
	return
}

// Owner returns the owner address embedded in the UID.
func (u UID) Owner() common.Address {
	var owner common.Address
	copy(owner[:], u[32:52])
	return owner
}

// ValidTo returns the expiry timestamp embedded in the UID.
func (u UID) ValidTo() uint32 {
	return binary.BigEndian.Uint32(u[52:])
}

// UIDFromBytes validates length and copies b into a UID.
func UIDFromBytes(b []byte) (UID, error) {
	var uid UID
	if len(b) != UIDLength {
		return uid, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedUID, len(b), UIDLength)
	}
	copy(uid[:], b)
	return uid, nil
}

// UIDFromHex decodes a 0x-prefixed hex string into a UID.
func UIDFromHex(s string) (UID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return UID{}, fmt.Errorf("%w: %v", ErrMalformedUID, err)
	}
	return UIDFromBytes(b)
}

func (u UID) Hex() string    { return hexutil.Encode(u[:]) }
func (u UID) String() string { return u.Hex() }
