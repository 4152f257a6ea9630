package lockalgo

import (
	"encoding/binary"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// personalSignDigest implements the personal-sign scheme:
// keccak("\x19Ethereum Signed Message:\n32" || message32).
func personalSignDigest(message32 [32]byte) [32]byte {
	prefix := []byte("\x19Ethereum Signed Message:\n32")
	buf := append(append([]byte(nil), prefix...), message32[:]...)
	return [32]byte(gethcrypto.Keccak256(buf))
}

// tronPersonalDigest is the Tron analogue of personal-sign, using
// Tron's own message prefix ahead of the same keccak framing.
func tronPersonalDigest(message32 [32]byte) [32]byte {
	prefix := []byte("\x19TRON Signed Message:\n32")
	buf := append(append([]byte(nil), prefix...), message32[:]...)
	return [32]byte(gethcrypto.Keccak256(buf))
}

// eip712Digest implements a simplified EIP-712 typed-data digest:
// keccak("\x19\x01" || domainSeparator || structHash), with domain
// {name:"Godwoken", version:"1", chainId}.
func eip712Digest(chainID uint64, structHash [32]byte) [32]byte {
	domainSeparator := gethcrypto.Keccak256(
		[]byte("Godwoken"),
		[]byte("1"),
		uint64ToBytes(chainID),
	)
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator...)
	buf = append(buf, structHash[:]...)
	return [32]byte(gethcrypto.Keccak256(buf))
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// polyjuiceRLPItem is the canonical Ethereum-compatible transaction list
// the RLP item: [nonce, gas_price, gas_limit, to|[], value, input,
// chain_id, 0, 0].
type polyjuiceRLPItem struct {
	Nonce    uint64
	GasPrice uint64
	GasLimit uint64
	To       []byte
	Value    uint64
	Input    []byte
	ChainID  uint64
	R        uint8
	S        uint8
}

// polyjuiceChainID combines the rollup chain id and the inner polyjuice
// chain id: chain_id = (rollup_chain_id << 32) | polyjuice_chain_id.
func polyjuiceChainID(cfg ChainConfig) uint64 {
	return (cfg.RollupChainID << 32) | uint64(cfg.PolyjuiceChainID)
}

// polyjuiceRLPDigest returns keccak256 of the RLP encoding of the
// canonical transaction list, the signing message for polyjuice-rlp.
func polyjuiceRLPDigest(cfg ChainConfig, to []byte, value uint64, tx gwtypes.L2Transaction) ([32]byte, error) {
	item := polyjuiceRLPItem{
		Nonce:    uint64(tx.Nonce),
		GasPrice: 0,
		GasLimit: 0,
		To:       to,
		Value:    value,
		Input:    tx.Args,
		ChainID:  polyjuiceChainID(cfg),
	}
	encoded, err := rlp.EncodeToBytes(item)
	if err != nil {
		return [32]byte{}, err
	}
	return [32]byte(gethcrypto.Keccak256(encoded)), nil
}

// canonicalizeTx builds the final signing digest for tx per kind.
func canonicalizeTx(kind Kind, cfg ChainConfig, senderScript, receiverScript gwtypes.Script, tx gwtypes.L2Transaction) []byte {
	raw := tx.Raw()
	switch kind {
	case KindEIP712Eth:
		structHash := gethcrypto.Keccak256(raw)
		d := eip712Digest(cfg.RollupChainID, [32]byte(structHash))
		return d[:]
	case KindPersonalSignEth:
		structHash := [32]byte(gethcrypto.Keccak256(raw))
		d := personalSignDigest(structHash)
		return d[:]
	case KindTronPersonal:
		structHash := [32]byte(gethcrypto.Keccak256(raw))
		d := tronPersonalDigest(structHash)
		return d[:]
	case KindPolyjuiceRLP:
		d, err := polyjuiceRLPDigest(cfg, receiverScript.Args, 0, tx)
		if err != nil {
			return nil
		}
		return d[:]
	default:
		return raw
	}
}

// canonicalizeWithdrawal builds the final signing digest for w per kind.
func canonicalizeWithdrawal(kind Kind, w gwtypes.WithdrawalRequest) []byte {
	raw := w.Raw()
	structHash := [32]byte(gethcrypto.Keccak256(raw))
	switch kind {
	case KindPersonalSignEth, KindPolyjuiceRLP:
		d := personalSignDigest(structHash)
		return d[:]
	case KindTronPersonal:
		d := tronPersonalDigest(structHash)
		return d[:]
	case KindEIP712Eth:
		d := eip712Digest(0, structHash)
		return d[:]
	default:
		return raw
	}
}
