package lockalgo

import (
	"crypto/ecdsa"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func scriptFor(key *ecdsa.PrivateKey) gwtypes.Script {
	addr := gethcrypto.PubkeyToAddress(key.PublicKey)
	return gwtypes.Script{CodeHash: gwtypes.Hash{1}, HashType: gwtypes.HashTypeType, Args: addr.Bytes()}
}

func TestVerifyTxPersonalSignRoundTrip(t *testing.T) {
	key := mustKey(t)
	sender := scriptFor(key)
	receiver := gwtypes.Script{CodeHash: gwtypes.Hash{2}}
	tx := gwtypes.L2Transaction{FromID: 4, ToID: 5, Nonce: 0, Args: []byte("hello")}

	cfg := ChainConfig{RollupChainID: 1}
	digest := canonicalizeTx(KindPersonalSignEth, cfg, sender, receiver, tx)
	sig, err := gethcrypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Sig = sig

	if err := VerifyTx(KindPersonalSignEth, cfg, sender, receiver, tx); err != nil {
		t.Fatalf("VerifyTx: %v", err)
	}
}

func TestVerifyTxRejectsWrongSigner(t *testing.T) {
	key := mustKey(t)
	other := mustKey(t)
	sender := scriptFor(key)
	receiver := gwtypes.Script{}
	tx := gwtypes.L2Transaction{FromID: 1, ToID: 2, Nonce: 3, Args: []byte("x")}
	cfg := ChainConfig{RollupChainID: 1}

	digest := canonicalizeTx(KindPersonalSignEth, cfg, sender, receiver, tx)
	sig, _ := gethcrypto.Sign(digest, other)
	tx.Sig = sig

	if err := VerifyTx(KindPersonalSignEth, cfg, sender, receiver, tx); err == nil {
		t.Fatal("expected signature verification to fail for the wrong signer")
	}
}

func TestAlwaysSuccessNeverFails(t *testing.T) {
	tx := gwtypes.L2Transaction{FromID: 1, ToID: 2}
	if err := VerifyTx(KindAlwaysSuccess, ChainConfig{}, gwtypes.Script{}, gwtypes.Script{}, tx); err != nil {
		t.Fatalf("always-success must never fail: %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	eip712Hash := gwtypes.Hash{0xAA}
	reg := NewRegistry(map[gwtypes.Hash]Kind{eip712Hash: KindEIP712Eth})
	kind, ok := reg.Lookup(eip712Hash)
	if !ok || kind != KindEIP712Eth {
		t.Fatalf("Lookup = %v, %v", kind, ok)
	}
	if _, ok := reg.Lookup(gwtypes.Hash{0xBB}); ok {
		t.Fatal("expected lookup miss for unregistered code hash")
	}
}
