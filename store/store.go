// Package store implements the persisted key-value state: a pebble-backed
// KV store with named column families and transactional batch/snapshot
// semantics, modeled on a rawdb.Table-style prefix-isolation idiom
// (github.com/cockroachdb/pebble backs what that idiom leaves pluggable as
// a plain KeyValueStore) and on the column-family set and transaction API
// shape of a pebble-backed rollup store.
package store

import (
	"bytes"
	"errors"

	"github.com/cockroachdb/pebble"
)

// Column families. Each is a key prefix within the single physical pebble
// instance, following a rawdb.Table-style prefix-isolation pattern rather
// than a native column-family API (pebble has none).
const (
	ColumnMeta                           = "m" // tip block hash, SMT roots, chain id, watermark number-hashes
	ColumnIndex                          = "i" // block_number (8 BE) <-> block_hash
	ColumnBlock                          = "b" // block_hash -> L2Block
	ColumnBlockGlobalState               = "g" // block_hash -> GlobalState
	ColumnBadBlock                       = "B" // block_hash -> challenge target
	ColumnTransaction                    = "t" // (block_hash, tx_index) -> L2Transaction
	ColumnTransactionReceipt             = "r" // (block_hash, tx_index) -> TxReceipt
	ColumnTransactionInfo                = "T" // tx_hash -> (block_hash, tx_index)
	ColumnWithdrawal                     = "w" // (block_hash, withdrawal_index) -> WithdrawalRequest
	ColumnWithdrawalInfo                 = "W" // withdrawal_hash -> (block_hash, withdrawal_index)
	ColumnMemPoolTransaction             = "p" // tx_hash -> L2Transaction
	ColumnMemPoolTransactionReceipt      = "P" // tx_hash -> TxReceipt
	ColumnMemPoolWithdrawal              = "q" // withdrawal_hash -> WithdrawalRequest
	ColumnRevertedBlockSMTLeaf           = "v" // reverted_block_smt_root -> leaf key -> leaf value
	ColumnRevertedBlockSMTRoot           = "V" // reverted_block_smt_root -> block hashes
	ColumnBlockSubmitTx                  = "s" // block_number (8 BE) -> submission tx
	ColumnBlockSubmitTxHash              = "S" // block_number (8 BE) -> submission tx hash
	ColumnBlockDepositInfoVec            = "d" // block_hash -> deposit info vec
	ColumnBlockPostFinalizedCustodianCap = "c" // block_hash -> post-block finalized custodian capacity
	ColumnAssetScript                    = "a" // script_hash -> Script
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// DB is a pebble-backed store exposing column-family-scoped transactions.
type DB struct {
	pdb *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string) (*DB, error) {
	pdb, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &DB{pdb: pdb}, nil
}

// Close closes the underlying pebble database.
func (db *DB) Close() error {
	return db.pdb.Close()
}

// columnKey prepends the column-family prefix to key.
func columnKey(col string, key []byte) []byte {
	buf := make([]byte, len(col)+len(key))
	copy(buf, col)
	copy(buf[len(col):], key)
	return buf
}

// Tx is a read-write transaction backed by a pebble indexed batch. Reads
// observe the transaction's own uncommitted writes; isolation from
// concurrent writers is pebble's standard snapshot-at-batch-creation
// semantics. Call Commit or Rollback exactly once.
type Tx struct {
	db    *DB
	batch *pebble.Batch
	done  bool
}

// Begin starts a new read-write transaction.
func (db *DB) Begin() *Tx {
	return &Tx{db: db, batch: db.pdb.NewIndexedBatch()}
}

// Get reads key from the given column family, falling back to the
// underlying database for keys not touched by this transaction.
func (tx *Tx) Get(col string, key []byte) ([]byte, error) {
	v, closer, err := tx.batch.Get(columnKey(col, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put writes key/value into the given column family within this transaction.
func (tx *Tx) Put(col string, key, value []byte) error {
	return tx.batch.Set(columnKey(col, key), value, nil)
}

// Delete removes key from the given column family within this transaction.
func (tx *Tx) Delete(col string, key []byte) error {
	return tx.batch.Delete(columnKey(col, key), nil)
}

// Commit applies the transaction's writes atomically.
func (tx *Tx) Commit() error {
	if tx.done {
		return errors.New("store: transaction already closed")
	}
	tx.done = true
	return tx.batch.Commit(pebble.Sync)
}

// Rollback discards the transaction's writes.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	return tx.batch.Close()
}

// Iterator walks keys within a single column family in ascending key order,
// with the column prefix stripped from Key().
type Iterator struct {
	col  string
	it   *pebble.Iterator
	done bool
}

// NewIterator returns an iterator over [col+start, col+end) within this
// transaction's view. A nil end iterates to the end of the column family.
func (tx *Tx) NewIterator(col string, start, end []byte) (*Iterator, error) {
	lower := columnKey(col, start)
	var upper []byte
	if end != nil {
		upper = columnKey(col, end)
	} else {
		upper = columnUpperBound(col)
	}
	it, err := tx.batch.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	it.First()
	return &Iterator{col: col, it: it}, nil
}

// columnUpperBound returns the exclusive upper bound enclosing every key
// within a column family (the prefix incremented by one).
func columnUpperBound(col string) []byte {
	b := []byte(col)
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return nil
}

// Valid reports whether the iterator is positioned at a valid entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Next advances the iterator.
func (it *Iterator) Next() bool { return it.it.Next() }

// Key returns the current key with the column-family prefix stripped.
func (it *Iterator) Key() []byte {
	k := it.it.Key()
	return k[len(it.col):]
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.it.Value()
}

// Close releases the iterator.
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	it.done = true
	return it.it.Close()
}

// Snapshot is a consistent point-in-time read-only view across all column
// families, used by RPC reads that must not observe concurrent block
// production.
type Snapshot struct {
	snap *pebble.Snapshot
}

// Snapshot returns a new consistent read-only view of the database.
func (db *DB) Snapshot() *Snapshot {
	return &Snapshot{snap: db.pdb.NewSnapshot()}
}

// Get reads key from the given column family as of the snapshot.
func (s *Snapshot) Get(col string, key []byte) ([]byte, error) {
	v, closer, err := s.snap.Get(columnKey(col, key))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// HasPrefix reports whether any key in col starts with prefix, as of the
// snapshot.
func (s *Snapshot) HasPrefix(col string, prefix []byte) (bool, error) {
	lower := columnKey(col, prefix)
	upper := columnUpperBound(col)
	it, err := s.snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, err
	}
	defer it.Close()
	it.First()
	ok := it.Valid() && bytes.HasPrefix(it.Key(), lower)
	return ok, nil
}

// Close releases the snapshot.
func (s *Snapshot) Close() error {
	return s.snap.Close()
}
