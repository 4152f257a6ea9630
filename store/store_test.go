package store

import (
	"bytes"
	"errors"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetCommit(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	if err := tx.Put(ColumnMeta, []byte("tip"), []byte("hash-1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	got, err := tx2.Get(ColumnMeta, []byte("tip"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hash-1")) {
		t.Fatalf("got %q, want %q", got, "hash-1")
	}
}

func TestGetNotFound(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	if _, err := tx.Get(ColumnMeta, []byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	if err := tx.Put(ColumnBlock, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	if _, err := tx2.Get(ColumnBlock, []byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled-back write to be absent, got err=%v", err)
	}
}

func TestColumnFamiliesAreIsolated(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	if err := tx.Put(ColumnBlock, []byte("k"), []byte("block-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Put(ColumnBlockGlobalState, []byte("k"), []byte("state-value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	block, err := tx2.Get(ColumnBlock, []byte("k"))
	if err != nil {
		t.Fatalf("Get ColumnBlock: %v", err)
	}
	state, err := tx2.Get(ColumnBlockGlobalState, []byte("k"))
	if err != nil {
		t.Fatalf("Get ColumnBlockGlobalState: %v", err)
	}
	if bytes.Equal(block, state) {
		t.Fatal("expected distinct values across column families sharing the same key")
	}
}

func TestIteratorScansOnlyItsColumn(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	for _, k := range []string{"a", "b", "c"} {
		if err := tx.Put(ColumnIndex, []byte(k), []byte("idx-"+k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := tx.Put(ColumnMeta, []byte("b"), []byte("unrelated")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := db.Begin()
	defer tx2.Rollback()
	it, err := tx2.NewIterator(ColumnIndex, nil, nil)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("expected [a b c] in ascending order, got %v", keys)
	}
}

func TestSnapshotIsolatedFromLaterWrites(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	if err := tx.Put(ColumnMeta, []byte("tip"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := db.Snapshot()
	defer snap.Close()

	tx2 := db.Begin()
	if err := tx2.Put(ColumnMeta, []byte("tip"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := snap.Get(ColumnMeta, []byte("tip"))
	if err != nil {
		t.Fatalf("snapshot Get: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("expected snapshot to observe pre-commit value v1, got %q", got)
	}
}

func TestHasPrefix(t *testing.T) {
	db := openTestDB(t)
	tx := db.Begin()
	if err := tx.Put(ColumnAssetScript, []byte{0x01, 0x02}, []byte("script")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := db.Snapshot()
	defer snap.Close()

	ok, err := snap.HasPrefix(ColumnAssetScript, []byte{0x01})
	if err != nil {
		t.Fatalf("HasPrefix: %v", err)
	}
	if !ok {
		t.Fatal("expected a matching prefix")
	}
	ok, err = snap.HasPrefix(ColumnAssetScript, []byte{0x09})
	if err != nil {
		t.Fatalf("HasPrefix: %v", err)
	}
	if ok {
		t.Fatal("expected no match for an absent prefix")
	}
}
