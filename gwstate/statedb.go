// Package gwstate implements the rollup's layered state database: account
// fields (nonce, script_hash), script storage, the script registry, the
// registry-address index, and a data-hash presence set, backed by an
// in-memory journal supporting snapshot/revert. It generalizes an
// account-object-plus-dirty-set pattern and a snapshot/revert id scheme
// from an Ethereum account trie to the rollup's SMT-committed key space.
package gwstate

import (
	"encoding/binary"
	"fmt"

	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/smt"
)

// nonceKey builds the SMT key for an account's nonce slot.
func nonceKey(id gwtypes.AccountID) gwtypes.Hash {
	return fieldKey(id, 0)
}

// scriptHashKey builds the SMT key for an account's script_hash slot.
func scriptHashKey(id gwtypes.AccountID) gwtypes.Hash {
	return fieldKey(id, 1)
}

func fieldKey(id gwtypes.AccountID, field byte) gwtypes.Hash {
	var h gwtypes.Hash
	binary.LittleEndian.PutUint32(h[0:4], uint32(id))
	h[4] = field
	return h
}

// storageKey builds the SMT key for a storage entry: H(account_id || raw_key).
func storageKey(id gwtypes.AccountID, rawKey gwtypes.Hash) gwtypes.Hash {
	buf := make([]byte, 36)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	copy(buf[4:], rawKey[:])
	return codec.Blake2b256Hash(buf)
}

// scriptHashIndexKey builds the SMT key for the script_hash -> account_id index.
func scriptHashIndexKey(scriptHash gwtypes.Hash) gwtypes.Hash {
	return scriptHash
}

// registryIndexKey builds the SMT key for registry_address -> script_hash.
func registryIndexKey(addr gwtypes.RegistryAddress) gwtypes.Hash {
	buf := make([]byte, 4+len(addr.Address))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(addr.RegistryID))
	copy(buf[4:], addr.Address)
	return codec.Blake2b256Hash(buf)
}

// dataHashKey builds the SMT key for the H("data"||blob_hash) presence set.
func dataHashKey(blobHash gwtypes.Hash) gwtypes.Hash {
	buf := make([]byte, 4+32)
	copy(buf[0:4], []byte("data"))
	copy(buf[4:], blobHash[:])
	return codec.Blake2b256Hash(buf)
}

// journalEntry records one mutation so it can be undone on RevertTo.
type journalEntry struct {
	key gwtypes.Hash
	had bool
	old gwtypes.Hash
}

// MemStateDB is the in-memory, journaled state layer that consensus code
// (generator, validator) runs against. It mirrors the relationship
// between an in-memory layer
// and core/state/statedb.go (persisted layer): gwstate only ever holds
// the working set for one block or one verifier-cell re-execution; the
// store package is the durable backing.
type MemStateDB struct {
	entries       map[gwtypes.Hash]gwtypes.Hash
	accountCount  uint64
	journal       []journalEntry
	snapshotMarks []int
}

// NewMemStateDB creates an empty state database with the given initial
// account count (0 for a fresh chain).
func NewMemStateDB(accountCount uint64) *MemStateDB {
	return &MemStateDB{
		entries:      make(map[gwtypes.Hash]gwtypes.Hash),
		accountCount: accountCount,
	}
}

// LoadFromPairs seeds the state database from an explicit (key,value)
// set and account count, e.g. when replaying from the store.
func LoadFromPairs(pairs []smt.KV, accountCount uint64) *MemStateDB {
	db := NewMemStateDB(accountCount)
	for _, kv := range pairs {
		db.entries[kv.Key] = kv.Value
	}
	return db
}

func (db *MemStateDB) set(key, value gwtypes.Hash) {
	old, had := db.entries[key]
	db.journal = append(db.journal, journalEntry{key: key, had: had, old: old})
	if value.IsZero() {
		delete(db.entries, key)
	} else {
		db.entries[key] = value
	}
}

func (db *MemStateDB) get(key gwtypes.Hash) gwtypes.Hash {
	return db.entries[key]
}

// Snapshot records the current journal length as a revert point and
// returns its id, mirroring core/state/journal.go's snapshot ids.
func (db *MemStateDB) Snapshot() int {
	id := len(db.snapshotMarks)
	db.snapshotMarks = append(db.snapshotMarks, len(db.journal))
	return id
}

// RevertTo undoes every mutation recorded since the given snapshot id.
func (db *MemStateDB) RevertTo(id int) error {
	if id < 0 || id >= len(db.snapshotMarks) {
		return fmt.Errorf("gwstate: invalid snapshot id %d", id)
	}
	mark := db.snapshotMarks[id]
	for i := len(db.journal) - 1; i >= mark; i-- {
		e := db.journal[i]
		if e.had {
			db.entries[e.key] = e.old
		} else {
			delete(db.entries, e.key)
		}
	}
	db.journal = db.journal[:mark]
	db.snapshotMarks = db.snapshotMarks[:id]
	return nil
}

// ChangedKeys returns the (key, current_value) pairs touched since the
// given snapshot id, each key appearing once at its most recent value --
// the kv_pairs leaf set a produced block commits to its SMT witness.
func (db *MemStateDB) ChangedKeys(sinceSnapshot int) []smt.KV {
	if sinceSnapshot < 0 || sinceSnapshot >= len(db.snapshotMarks) {
		return nil
	}
	mark := db.snapshotMarks[sinceSnapshot]
	seen := make(map[gwtypes.Hash]bool)
	var out []smt.KV
	for i := mark; i < len(db.journal); i++ {
		k := db.journal[i].key
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, smt.KV{Key: k, Value: db.get(k)})
	}
	return out
}

// AccountCount returns the number of live accounts.
func (db *MemStateDB) AccountCount() uint64 { return db.accountCount }

// GetNonce returns account id's nonce (low 4 bytes of its nonce slot).
func (db *MemStateDB) GetNonce(id gwtypes.AccountID) uint32 {
	v := db.get(nonceKey(id))
	return binary.LittleEndian.Uint32(v[:4])
}

// SetNonce sets account id's nonce.
func (db *MemStateDB) SetNonce(id gwtypes.AccountID, nonce uint32) {
	var v gwtypes.Hash
	binary.LittleEndian.PutUint32(v[:4], nonce)
	db.set(nonceKey(id), v)
}

// GetScriptHash returns account id's script hash, or an error if absent.
func (db *MemStateDB) GetScriptHash(id gwtypes.AccountID) (gwtypes.Hash, error) {
	v := db.get(scriptHashKey(id))
	if v.IsZero() {
		return gwtypes.Hash{}, gwerrors.ErrMissingKey
	}
	return v, nil
}

// CreateAccount materializes both the nonce and script_hash entries for
// a new account id, and the reverse script_hash->id index, enforcing the
// invariant that script_hash is never zero.
func (db *MemStateDB) CreateAccount(id gwtypes.AccountID, scriptHash gwtypes.Hash) error {
	if scriptHash.IsZero() {
		return fmt.Errorf("gwstate: script_hash must not be zero")
	}
	db.set(scriptHashKey(id), scriptHash)
	db.set(nonceKey(id), gwtypes.Hash{})
	var idHash gwtypes.Hash
	binary.LittleEndian.PutUint32(idHash[0:4], uint32(id))
	idHash[4] = 1 // presence bit in byte 4
	db.set(scriptHashIndexKey(scriptHash), idHash)
	if uint64(id) >= db.accountCount {
		db.accountCount = uint64(id) + 1
	}
	return nil
}

// AccountIDByScriptHash looks up the account id registered for scriptHash.
func (db *MemStateDB) AccountIDByScriptHash(scriptHash gwtypes.Hash) (gwtypes.AccountID, bool) {
	v := db.get(scriptHashIndexKey(scriptHash))
	if v.IsZero() || v[4] == 0 {
		return 0, false
	}
	return gwtypes.AccountID(binary.LittleEndian.Uint32(v[0:4])), true
}

// SetRegistryAddress maps addr to scriptHash (the registry_address ->
// script_hash global index).
func (db *MemStateDB) SetRegistryAddress(addr gwtypes.RegistryAddress, scriptHash gwtypes.Hash) {
	db.set(registryIndexKey(addr), scriptHash)
}

// ScriptHashByRegistryAddress resolves addr to its script hash.
func (db *MemStateDB) ScriptHashByRegistryAddress(addr gwtypes.RegistryAddress) (gwtypes.Hash, bool) {
	v := db.get(registryIndexKey(addr))
	if v.IsZero() {
		return gwtypes.Hash{}, false
	}
	return v, true
}

// GetStorage reads a storage slot for account id.
func (db *MemStateDB) GetStorage(id gwtypes.AccountID, rawKey gwtypes.Hash) gwtypes.Hash {
	return db.get(storageKey(id, rawKey))
}

// SetStorage writes a storage slot for account id.
func (db *MemStateDB) SetStorage(id gwtypes.AccountID, rawKey, value gwtypes.Hash) {
	db.set(storageKey(id, rawKey), value)
}

// MarkDataPresent records a data blob's presence by its hash.
func (db *MemStateDB) MarkDataPresent(blobHash gwtypes.Hash) {
	db.set(dataHashKey(blobHash), gwtypes.Hash{0: 1})
}

// IsDataPresent reports whether blobHash has been recorded.
func (db *MemStateDB) IsDataPresent(blobHash gwtypes.Hash) bool {
	return !db.get(dataHashKey(blobHash)).IsZero()
}

// Pairs returns every non-zero (key,value) entry currently held, for
// committing to the SMT.
func (db *MemStateDB) Pairs() []smt.KV {
	out := make([]smt.KV, 0, len(db.entries))
	for k, v := range db.entries {
		out = append(out, smt.KV{Key: k, Value: v})
	}
	return out
}

// Root computes the account SMT root over the current working set.
func (db *MemStateDB) Root() gwtypes.Hash {
	return smt.ComputeRoot(db.Pairs())
}

// MerkleState returns the current (root, account_count) pair.
func (db *MemStateDB) MerkleState() gwtypes.MerkleState {
	return gwtypes.MerkleState{Root: db.Root(), Count: db.accountCount}
}

// Checkpoint returns H(root || account_count) for the current working set.
func (db *MemStateDB) Checkpoint() gwtypes.StateCheckpoint {
	return smt.Checkpoint(db.Root(), db.accountCount)
}
