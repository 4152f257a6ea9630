// Package codec implements the typed binary encoding used for all
// on-wire and on-chain rollup structures (molecule-style fixed/dynamic
// tables), plus blake2b-256 hashing of their canonical byte layouts. It
// mirrors a wire-codec package split between a builder
// (Writer) and a zero-copy reader (Reader), but targets CKB's
// fixed-offset/length-prefixed molecule format rather than RLP.
package codec

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// Blake2b256 returns the 32-byte blake2b-256 digest of data.
func Blake2b256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Blake2b256Hash returns the digest as a gwtypes.Hash.
func Blake2b256Hash(data []byte) gwtypes.Hash {
	return gwtypes.Hash(Blake2b256(data))
}

// Writer accumulates a length-prefixed/fixed-offset byte encoding. It
// plays the same role as an RLP-style Writer builder: callers
// append typed fields in order and call Bytes() once at the end.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with capacity hint size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) WriteU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) WriteU32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) WriteU64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// WriteU128 appends a little-endian 16-byte value.
func (w *Writer) WriteU128(v [16]byte) { w.buf = append(w.buf, v[:]...) }

// WriteHash appends a fixed 32-byte hash.
func (w *Writer) WriteHash(h gwtypes.Hash) { w.buf = append(w.buf, h[:]...) }

// WriteBytes appends a u32-length-prefixed variable-length byte slice.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteU32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteRaw appends b verbatim, with no length prefix -- used when the
// trailing bytes of a layout are an opaque, caller-delimited tail (e.g.
// the original deposit lock args copied into a custodian lock).
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteScript appends a Script as code_hash(32) || hash_type(1) || args(len-prefixed).
func (w *Writer) WriteScript(s gwtypes.Script) {
	w.WriteHash(s.CodeHash)
	w.WriteU8(uint8(s.HashType))
	w.WriteBytes(s.Args)
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader is a zero-copy cursor over a molecule-encoded byte slice,
// mirroring an RLP-style Reader.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// ErrShortBuffer is returned when the underlying buffer is exhausted
// before all requested fields have been read.
var ErrShortBuffer = fmt.Errorf("%w: short buffer", gwerrors.ErrEncoding)

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrShortBuffer
	}
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadU128() ([16]byte, error) {
	var out [16]byte
	if err := r.need(16); err != nil {
		return out, err
	}
	copy(out[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return out, nil
}

func (r *Reader) ReadHash() (gwtypes.Hash, error) {
	var h gwtypes.Hash
	if err := r.need(32); err != nil {
		return h, err
	}
	copy(h[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	return h, nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func (r *Reader) ReadScript() (gwtypes.Script, error) {
	var s gwtypes.Script
	codeHash, err := r.ReadHash()
	if err != nil {
		return s, err
	}
	ht, err := r.ReadU8()
	if err != nil {
		return s, err
	}
	args, err := r.ReadBytes()
	if err != nil {
		return s, err
	}
	s.CodeHash = codeHash
	s.HashType = gwtypes.HashType(ht)
	s.Args = append([]byte(nil), args...)
	return s, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// HashScript returns the canonical blake2b-256 hash of a script.
func HashScript(s gwtypes.Script) gwtypes.Hash {
	w := NewWriter(64 + len(s.Args))
	w.WriteScript(s)
	return Blake2b256Hash(w.Bytes())
}

// HashGlobalState returns the blake2b-256 hash of the global state's
// fixed-offset table -- this is the rollup cell's data hash.
func HashGlobalState(gs gwtypes.GlobalState) gwtypes.Hash {
	w := NewWriter(256)
	w.WriteHash(gs.Account.Root)
	w.WriteU64(gs.Account.Count)
	w.WriteHash(gs.Block.Root)
	w.WriteU64(gs.Block.Count)
	w.WriteHash(gs.TipBlockHash)
	w.WriteU64(uint64(gs.LastFinalizedBlockNumber))
	w.WriteHash(gs.RevertedBlockRoot)
	w.WriteU8(uint8(gs.Status))
	w.WriteU32(gs.Version)
	w.WriteHash(gs.RollupConfigHash)
	return Blake2b256Hash(w.Bytes())
}

// HashL2Transaction returns the blake2b-256 hash of a transaction's
// witness (raw bytes + signature), used as the CBMT leaf.
func HashL2Transaction(tx gwtypes.L2Transaction) gwtypes.Hash {
	w := NewWriter(64 + len(tx.Args) + len(tx.Sig))
	raw := tx.Raw()
	w.WriteBytes(raw)
	w.WriteBytes(tx.Sig)
	return Blake2b256Hash(w.Bytes())
}

// Checkpoint computes H(merkle_root || account_count), the sub-state
// commitment used at every checkpoint boundary.
func Checkpoint(root gwtypes.Hash, accountCount uint64) gwtypes.StateCheckpoint {
	w := NewWriter(40)
	w.WriteHash(root)
	w.WriteU64(accountCount)
	return gwtypes.StateCheckpoint(Blake2b256Hash(w.Bytes()))
}

// CBMTRoot computes a complete binary merkle tree root over leaves,
// matching a standard binary merkle hasher shape (pairwise blake2b folding),
// duplicating the last leaf on odd levels as CBMT does.
func CBMTRoot(leaves []gwtypes.Hash) gwtypes.Hash {
	if len(leaves) == 0 {
		return gwtypes.Hash{}
	}
	level := append([]gwtypes.Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]gwtypes.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b gwtypes.Hash) gwtypes.Hash {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Blake2b256Hash(buf)
}
