package lockalgo

import (
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/godwokenrises/godwoken-core/gwerrors"
)

// Recover recovers the 20-byte Ethereum-style address that produced sig
// over digest (a 32-byte message digest already canonicalized per the
// lock algorithm's scheme -- see canonicalizeTx/canonicalizeWithdrawal),
// using the go-ethereum dependency for the secp256k1
// recovery math rather than a hand-rolled implementation (see
// DESIGN.md's lockalgo (§D) entry for why this is preferred over
// reimplementing ECDSA recovery).
func Recover(digest []byte, sig []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("%w: digest must be 32 bytes, got %d", gwerrors.ErrLockAlgoInvalidSignature, len(digest))
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", gwerrors.ErrLockAlgoInvalidSignature, len(sig))
	}
	pub, err := gethcrypto.SigToPub(digest, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrLockAlgoInvalidSignature, err)
	}
	addr := gethcrypto.PubkeyToAddress(*pub)
	return addr.Bytes(), nil
}
