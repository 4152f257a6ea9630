package gwstate

import (
	"testing"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

func TestCreateAccountInvariants(t *testing.T) {
	db := NewMemStateDB(4)
	scriptHash := gwtypes.Hash{1, 2, 3}
	if err := db.CreateAccount(4, scriptHash); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	got, err := db.GetScriptHash(4)
	if err != nil || got != scriptHash {
		t.Fatalf("GetScriptHash = %v, %v", got, err)
	}
	if db.GetNonce(4) != 0 {
		t.Fatal("expected fresh nonce 0")
	}
	id, ok := db.AccountIDByScriptHash(scriptHash)
	if !ok || id != 4 {
		t.Fatalf("AccountIDByScriptHash = %v, %v", id, ok)
	}
	if db.AccountCount() != 5 {
		t.Fatalf("expected account count 5, got %d", db.AccountCount())
	}
}

func TestCreateAccountRejectsZeroScriptHash(t *testing.T) {
	db := NewMemStateDB(0)
	if err := db.CreateAccount(0, gwtypes.Hash{}); err == nil {
		t.Fatal("expected error for zero script_hash")
	}
}

func TestSnapshotRevert(t *testing.T) {
	db := NewMemStateDB(0)
	_ = db.CreateAccount(0, gwtypes.Hash{1})
	snap := db.Snapshot()
	db.SetNonce(0, 7)
	if db.GetNonce(0) != 7 {
		t.Fatal("expected nonce 7 before revert")
	}
	if err := db.RevertTo(snap); err != nil {
		t.Fatalf("RevertTo: %v", err)
	}
	if db.GetNonce(0) != 0 {
		t.Fatal("expected nonce reverted to 0")
	}
}

func TestRegistryAddressIndex(t *testing.T) {
	db := NewMemStateDB(0)
	scriptHash := gwtypes.Hash{9}
	addr := gwtypes.RegistryAddress{RegistryID: gwtypes.EthRegistryID, Address: []byte{0x11, 0x11}}
	db.SetRegistryAddress(addr, scriptHash)
	got, ok := db.ScriptHashByRegistryAddress(addr)
	if !ok || got != scriptHash {
		t.Fatalf("ScriptHashByRegistryAddress = %v, %v", got, ok)
	}
}

func TestRootChangesWithStorage(t *testing.T) {
	db := NewMemStateDB(0)
	_ = db.CreateAccount(0, gwtypes.Hash{1})
	r1 := db.Root()
	db.SetStorage(0, gwtypes.Hash{1}, gwtypes.Hash{2})
	r2 := db.Root()
	if r1 == r2 {
		t.Fatal("root should change after storage write")
	}
}
