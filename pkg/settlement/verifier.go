package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solverforge/settler/pkg/crypto"
	"github.com/solverforge/settler/pkg/order"
)

// SignatureValidator is the EIP-1271 style contract callback: does the
// claimed owner consider this signature valid for this digest?
type SignatureValidator interface {
	IsValidSignature(owner common.Address, digest common.Hash, signature []byte) (bool, error)
}

// PreSignReader exposes the persisted pre-authorization records the
// PreSign scheme checks against. The fill Ledger satisfies it.
type PreSignReader interface {
	PreSigned(uid order.UID) (bool, error)
}

// Verifier authenticates trades: given a trade record and the engine's
// domain context it produces a RecoveredOrder or fails with
// ErrInvalidSignature. Verification is pure except for the PreSign
// scheme, which reads persisted state.
type Verifier struct {
	signer    *crypto.OrderSigner
	contracts SignatureValidator // may be nil: EIP-1271 trades then fail
	presigns  PreSignReader
}

func NewVerifier(signer *crypto.OrderSigner, contracts SignatureValidator, presigns PreSignReader) *Verifier {
	return &Verifier{signer: signer, contracts: contracts, presigns: presigns}
}

// Recover authenticates one trade against the batch token list.
func (v *Verifier) Recover(tokens []common.Address, t *Trade) (*RecoveredOrder, error) {
	o, err := t.OrderData(tokens)
	if err != nil {
		return nil, err
	}

	digest, err := v.signer.Digest(&o)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var owner common.Address
	switch t.Scheme() {
	case SchemeEIP712:
		owner, err = crypto.RecoverAddress(digest.Bytes(), t.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}

	case SchemeEthSign:
		owner, err = crypto.RecoverAddress(crypto.EthSignDigest(digest).Bytes(), t.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}

	case SchemeEIP1271:
		// The signature blob embeds the claimed owner in its first 20
		// bytes; the rest is handed to the owner's contract verbatim.
		if len(t.Signature) < common.AddressLength {
			return nil, fmt.Errorf("%w: eip1271 signature shorter than owner address", ErrInvalidSignature)
		}
		owner = common.BytesToAddress(t.Signature[:common.AddressLength])
		if v.contracts == nil {
			return nil, fmt.Errorf("%w: no contract signature validator configured", ErrInvalidSignature)
		}
		ok, err := v.contracts.IsValidSignature(owner, digest, t.Signature[common.AddressLength:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: contract rejected signature", ErrInvalidSignature)
		}

	case SchemePreSign:
		if len(t.Signature) != common.AddressLength {
			return nil, fmt.Errorf("%w: presign signature must be the 20-byte owner", ErrInvalidSignature)
		}
		owner = common.BytesToAddress(t.Signature)
		uid := order.ComputeUID(digest, owner, o.ValidTo)
		signed, err := v.presigns.PreSigned(uid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !signed {
			return nil, fmt.Errorf("%w: order not pre-signed", ErrInvalidSignature)
		}
	}

	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: recovered zero address", ErrInvalidSignature)
	}

	return &RecoveredOrder{
		Order: o,
		Owner: owner,
		UID:   order.ComputeUID(digest, owner, o.ValidTo),
	}, nil
}
