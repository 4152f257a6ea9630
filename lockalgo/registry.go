// Package lockalgo implements the polymorphic lock-algorithm registry:
// given (sender_script, receiver_script, message, signature) it recovers
// or verifies against one of a fixed set of signature schemes
// identified by 32-byte code hash. The registry is a compile-time enum
// over the known set rather than dynamic dispatch, so consensus code
// never allocates an interface value per verification.
//
// Grounded on secp256k1.go and signature_recovery.go's recover-address
// shape; actual secp256k1 recovery and RLP canonicalization are
// delegated to the go-ethereum dependency rather than re-derived by
// hand.
package lockalgo

import (
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// Kind enumerates the known lock algorithms.
type Kind int

const (
	KindEIP712Eth Kind = iota
	KindPersonalSignEth
	KindTronPersonal
	KindPolyjuiceRLP
	KindAlwaysSuccess
)

func (k Kind) String() string {
	switch k {
	case KindEIP712Eth:
		return "eip712-eth"
	case KindPersonalSignEth:
		return "personal-sign-eth"
	case KindTronPersonal:
		return "tron-personal"
	case KindPolyjuiceRLP:
		return "polyjuice-rlp"
	case KindAlwaysSuccess:
		return "always-success"
	default:
		return "unknown"
	}
}

// Registry maps a lock script's code_hash to its Kind. It is built once
// at process startup from rollup configuration and never mutated
// afterward, matching the "global singletons... immutable after setup"
// design note.
type Registry struct {
	byCodeHash map[gwtypes.Hash]Kind
}

// NewRegistry builds an immutable registry from a code-hash assignment.
func NewRegistry(codeHashes map[gwtypes.Hash]Kind) *Registry {
	byHash := make(map[gwtypes.Hash]Kind, len(codeHashes))
	for h, k := range codeHashes {
		byHash[h] = k
	}
	return &Registry{byCodeHash: byHash}
}

// Lookup resolves a lock script's code_hash to its Kind.
func (r *Registry) Lookup(codeHash gwtypes.Hash) (Kind, bool) {
	k, ok := r.byCodeHash[codeHash]
	return k, ok
}

// ChainConfig carries the chain ids needed to canonicalize messages for
// chain-id-scoped algorithms (EIP-712, Polyjuice RLP).
type ChainConfig struct {
	RollupChainID    uint64
	PolyjuiceChainID uint32
}

// VerifyTx verifies an L2Transaction's signature was produced by the
// owner of senderScript, per the kind's canonicalization scheme.
func VerifyTx(kind Kind, cfg ChainConfig, senderScript, receiverScript gwtypes.Script, tx gwtypes.L2Transaction) error {
	if kind == KindAlwaysSuccess {
		return nil
	}
	msg := canonicalizeTx(kind, cfg, senderScript, receiverScript, tx)
	addr, err := Recover(msg, tx.Sig)
	if err != nil {
		return err
	}
	if !addressMatchesScript(addr, senderScript) {
		return gwerrors.ErrLockAlgoInvalidSignature
	}
	return nil
}

// VerifyWithdrawal verifies a withdrawal request's signature was
// produced by the owner of senderScript.
func VerifyWithdrawal(kind Kind, senderScript gwtypes.Script, w gwtypes.WithdrawalRequest) error {
	if kind == KindAlwaysSuccess {
		return nil
	}
	msg := canonicalizeWithdrawal(kind, w)
	addr, err := Recover(msg, w.Sig)
	if err != nil {
		return err
	}
	if !addressMatchesScript(addr, senderScript) {
		return gwerrors.ErrLockAlgoInvalidSignature
	}
	return nil
}

// addressMatchesScript reports whether a recovered 20-byte address
// equals the last 20 bytes of the script's args (the convention used by
// the ETH-registry lock, script.Args = registry_id-agnostic address
// tail for eth-family locks).
func addressMatchesScript(addr []byte, script gwtypes.Script) bool {
	if len(script.Args) < 20 {
		return false
	}
	tail := script.Args[len(script.Args)-20:]
	for i := 0; i < 20; i++ {
		if tail[i] != addr[i] {
			return false
		}
	}
	return true
}
