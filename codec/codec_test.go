package codec

import (
	"testing"

	"github.com/godwokenrises/godwoken-core/gwtypes"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.WriteU8(7)
	w.WriteU32(1234)
	w.WriteU64(987654321)
	w.WriteHash(gwtypes.Hash{1, 2, 3})
	w.WriteBytes([]byte("hello"))
	w.WriteScript(gwtypes.Script{CodeHash: gwtypes.Hash{9}, HashType: gwtypes.HashTypeType, Args: []byte{1, 2}})

	r := NewReader(w.Bytes())
	if v, err := r.ReadU8(); err != nil || v != 7 {
		t.Fatalf("ReadU8 = %d, %v", v, err)
	}
	if v, err := r.ReadU32(); err != nil || v != 1234 {
		t.Fatalf("ReadU32 = %d, %v", v, err)
	}
	if v, err := r.ReadU64(); err != nil || v != 987654321 {
		t.Fatalf("ReadU64 = %d, %v", v, err)
	}
	if h, err := r.ReadHash(); err != nil || h != (gwtypes.Hash{1, 2, 3}) {
		t.Fatalf("ReadHash = %v, %v", h, err)
	}
	if b, err := r.ReadBytes(); err != nil || string(b) != "hello" {
		t.Fatalf("ReadBytes = %q, %v", b, err)
	}
	s, err := r.ReadScript()
	if err != nil || s.HashType != gwtypes.HashTypeType || len(s.Args) != 2 {
		t.Fatalf("ReadScript = %+v, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", r.Remaining())
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadU64(); err == nil {
		t.Fatal("expected short-buffer error")
	}
}

func TestCBMTRootDeterministic(t *testing.T) {
	leaves := []gwtypes.Hash{Blake2b256Hash([]byte("a")), Blake2b256Hash([]byte("b")), Blake2b256Hash([]byte("c"))}
	r1 := CBMTRoot(leaves)
	r2 := CBMTRoot(leaves)
	if r1 != r2 {
		t.Fatal("CBMTRoot not deterministic")
	}
	if r1.IsZero() {
		t.Fatal("CBMTRoot should not be zero for non-empty leaves")
	}
}

func TestCheckpointChangesWithInputs(t *testing.T) {
	root := gwtypes.Hash{1}
	c1 := Checkpoint(root, 5)
	c2 := Checkpoint(root, 6)
	if c1 == c2 {
		t.Fatal("checkpoint should depend on account count")
	}
}
