// Package custodian implements the finalized-custodian collector and
// withdrawal packer: selecting enough finalized custodian cells to back
// a block's withdrawals, and bin-packing CKB/SUDT balances down to the
// required change outputs. The ascending-capacity, min-heap-first
// selection strategy is repurposed from a gas-price heap idiom (sorting
// transactions by price for eviction/block-building) to sort candidate
// cells by capacity instead.
package custodian

import (
	"container/heap"
	"errors"
	"math"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// DefaultMaxCells caps how many candidate cells Collect will consume
// before giving up with ErrNotEnough.
const DefaultMaxCells = 50

// MaxCacheSUDTTypes caps how many distinct SUDT types CollectCapped
// keeps candidate pools open for at once.
const MaxCacheSUDTTypes = 500

// ErrNotEnough reports that the available finalized custodian cells
// cannot cover a requirement within the max_cells budget.
var ErrNotEnough = errors.New("custodian: not enough finalized custodian cells to satisfy requirement")

// Candidate is one finalized custodian cell available for collection,
// tagged with which source produced it and its L1 outpoint reference so
// a caller composing a submission transaction can cite it as an input
// without a second lookup.
type Candidate struct {
	Ref   gwtypes.Hash
	Cell  cells.ParsedCell
	Local bool // true: off-chain local cells manager, false: L1 indexer
}

func (c Candidate) sudtHash() gwtypes.Hash { return c.Cell.SudtScriptHash }

func (c Candidate) amount() *uint256.Int {
	if c.sudtHash() == (gwtypes.Hash{}) {
		return new(uint256.Int)
	}
	return u128FromLE(c.Cell.Amount)
}

// u128FromLE decodes a little-endian u128 amount into a uint256.Int, the
// same 128-bit-in-256-bit-word representation used elsewhere for EVM
// balances crossing the big.Int/uint256.Int boundary.
func u128FromLE(b [16]byte) *uint256.Int {
	be := make([]byte, 16)
	for i := range b {
		be[i] = b[15-i]
	}
	return new(uint256.Int).SetBytes(be)
}

// Requirement is the {capacity, per-sudt amount} totals that a set of
// collected custodian cells must cover.
type Requirement struct {
	Capacity uint64
	SUDT     map[gwtypes.Hash]*uint256.Int
}

// capacityHeap is a min-heap of candidates ordered ascending by cell
// capacity, mirroring minPriceHeap's Push/Pop shape (without index tracking).
type capacityHeap []Candidate

func (h capacityHeap) Len() int            { return len(h) }
func (h capacityHeap) Less(i, j int) bool  { return h[i].Cell.Cell.Capacity < h[j].Cell.Cell.Capacity }
func (h capacityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *capacityHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *capacityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// progress tracks a Collect scan's running totals against Requirement.
type progress struct {
	capacity *big.Int
	sudt     map[gwtypes.Hash]*uint256.Int
}

func newProgress() *progress {
	return &progress{capacity: new(big.Int), sudt: make(map[gwtypes.Hash]*uint256.Int)}
}

func (p *progress) add(c Candidate) {
	p.capacity.Add(p.capacity, new(big.Int).SetUint64(c.Cell.Cell.Capacity))
	if h := c.sudtHash(); h != (gwtypes.Hash{}) {
		cur, ok := p.sudt[h]
		if !ok {
			cur = new(uint256.Int)
			p.sudt[h] = cur
		}
		p.sudt[h] = new(uint256.Int).Add(cur, c.amount())
	}
}

func (p *progress) satisfies(req Requirement) bool {
	if p.capacity.Cmp(new(big.Int).SetUint64(req.Capacity)) < 0 {
		return false
	}
	for hash, need := range req.SUDT {
		have, ok := p.sudt[hash]
		if !ok || have.Cmp(need) < 0 {
			return false
		}
	}
	return true
}

// Collect enumerates local candidates first, then indexer candidates,
// each ordered ascending by capacity via a min-heap, stopping once
// collected capacity and every required SUDT amount is met. maxCells <=
// 0 uses DefaultMaxCells.
func Collect(local, indexer []Candidate, req Requirement, maxCells int) ([]Candidate, error) {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	var collected []Candidate
	prog := newProgress()

	drain := func(pool []Candidate) (bool, error) {
		h := make(capacityHeap, 0, len(pool))
		for _, c := range pool {
			h = append(h, c)
		}
		heap.Init(&h)
		for h.Len() > 0 {
			if len(collected) >= maxCells {
				return false, ErrNotEnough
			}
			c := heap.Pop(&h).(Candidate)
			collected = append(collected, c)
			prog.add(c)
			if prog.satisfies(req) {
				return true, nil
			}
		}
		return false, nil
	}

	done, err := drain(local)
	if err != nil {
		return nil, err
	}
	if done {
		return collected, nil
	}
	done, err = drain(indexer)
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, ErrNotEnough
	}
	return collected, nil
}

// CollectCapped is the defragmenting collector variant: it caps the
// number of distinct SUDT type pools it keeps open to MaxCacheSUDTTypes
// and, among multiple under-fulfilled types, always pulls from the type
// with the largest remaining shortfall first (binary-heap minima within
// that type's own pool).
func CollectCapped(local, indexer []Candidate, req Requirement, maxCells int) ([]Candidate, error) {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	all := append(append([]Candidate{}, local...), indexer...)

	ckbPool := make(capacityHeap, 0)
	typePools := make(map[gwtypes.Hash]*capacityHeap)
	var typeOrder []gwtypes.Hash
	for _, c := range all {
		h := c.sudtHash()
		if h == (gwtypes.Hash{}) {
			ckbPool = append(ckbPool, c)
			continue
		}
		pool, ok := typePools[h]
		if !ok {
			if len(typeOrder) >= MaxCacheSUDTTypes {
				continue // drop candidates for types beyond the cache budget
			}
			pool = &capacityHeap{}
			typePools[h] = pool
			typeOrder = append(typeOrder, h)
		}
		*pool = append(*pool, c)
	}
	heap.Init(&ckbPool)
	for _, h := range typePools {
		heap.Init(h)
	}

	var collected []Candidate
	prog := newProgress()

	shortfall := func(hash gwtypes.Hash, need *uint256.Int) *uint256.Int {
		have, ok := prog.sudt[hash]
		if !ok {
			have = new(uint256.Int)
		}
		if have.Cmp(need) >= 0 {
			return new(uint256.Int)
		}
		return new(uint256.Int).Sub(need, have)
	}

	for {
		if prog.satisfies(req) {
			return collected, nil
		}
		if len(collected) >= maxCells {
			return nil, ErrNotEnough
		}

		// Pick the most under-fulfilled SUDT type with a non-empty pool.
		var pickPool *capacityHeap
		best := new(uint256.Int)
		for hash, need := range req.SUDT {
			pool, ok := typePools[hash]
			if !ok || pool.Len() == 0 {
				continue
			}
			s := shortfall(hash, need)
			if s.Sign() > 0 && s.Cmp(best) >= 0 {
				best = s
				pickPool = pool
			}
		}

		if pickPool != nil {
			c := heap.Pop(pickPool).(Candidate)
			collected = append(collected, c)
			prog.add(c)
			continue
		}

		// No SUDT shortfall remains (or no pool left) -- fall back to CKB.
		if prog.capacity.Cmp(new(big.Int).SetUint64(req.Capacity)) < 0 && ckbPool.Len() > 0 {
			c := heap.Pop(&ckbPool).(Candidate)
			collected = append(collected, c)
			prog.add(c)
			continue
		}

		return nil, ErrNotEnough
	}
}

// Bucket is one pool of available custodian balance, either the single
// CKB pool or one SUDT type's (capacity, balance, script) triple.
type Bucket struct {
	Capacity uint64
	Balance  *uint256.Int
	Script   gwtypes.Script
}

// Pool is the packer's working set of available custodian balances, one
// CKB bucket plus zero or more SUDT buckets, across a single block's
// worth of withdrawals.
type Pool struct {
	CKBCapacity uint64
	MinCapacity uint64
	SUDT        map[gwtypes.Hash]*Bucket
}

// NewPool builds a Pool from collected custodian candidates.
func NewPool(collected []Candidate, minCapacity uint64) Pool {
	p := Pool{MinCapacity: minCapacity, SUDT: make(map[gwtypes.Hash]*Bucket)}
	for _, c := range collected {
		if h := c.sudtHash(); h != (gwtypes.Hash{}) {
			b, ok := p.SUDT[h]
			if !ok {
				b = &Bucket{Balance: new(uint256.Int)}
				if c.Cell.Cell.Type != nil {
					b.Script = *c.Cell.Cell.Type
				}
				p.SUDT[h] = b
			}
			b.Capacity += c.Cell.Cell.Capacity
			b.Balance = new(uint256.Int).Add(b.Balance, c.amount())
		} else {
			p.CKBCapacity += c.Cell.Cell.Capacity
		}
	}
	return p
}

var errInsufficientSUDT = errors.New("custodian: insufficient SUDT balance for withdrawal")
var errInsufficientCapacity = errors.New("custodian: insufficient CKB capacity for withdrawal")

// Withdraw applies one withdrawal request against the pool: verifies
// the withdrawal's own output cell meets its occupied-capacity minimum,
// decrements the matching SUDT bucket (collapsing its capacity into the
// CKB pool when it empties), then decrements the CKB pool.
func (p *Pool) Withdraw(req gwtypes.WithdrawalRequest, lockScriptLen, typeScriptLen int) error {
	out := gwtypes.CellOutput{Capacity: req.Capacity, Data: make([]byte, 16)}
	if req.SudtScriptHash != (gwtypes.Hash{}) {
		out.Type = &gwtypes.Script{Args: make([]byte, typeScriptLen)}
	}
	out.Lock = gwtypes.Script{Args: make([]byte, lockScriptLen)}
	if req.Capacity < out.OccupiedCapacity() {
		return errInsufficientCapacity
	}

	if req.SudtScriptHash != (gwtypes.Hash{}) {
		b, ok := p.SUDT[req.SudtScriptHash]
		if !ok {
			return errInsufficientSUDT
		}
		amt := u128FromLE(req.Amount)
		if b.Balance.Cmp(amt) < 0 {
			return errInsufficientSUDT
		}
		b.Balance = new(uint256.Int).Sub(b.Balance, amt)
		if b.Balance.IsZero() {
			p.CKBCapacity += b.Capacity
			delete(p.SUDT, req.SudtScriptHash)
		}
	}

	if p.CKBCapacity < req.Capacity {
		return errInsufficientCapacity
	}
	remaining := p.CKBCapacity - req.Capacity
	switch {
	case remaining == 0:
		p.CKBCapacity = 0
	case remaining < p.MinCapacity:
		return errInsufficientCapacity
	default:
		p.CKBCapacity = remaining
	}
	return nil
}

// Finish emits the custodian-change outputs: one per remaining non-zero
// SUDT bucket, plus one or more CKB change outputs split across the
// u64 capacity ceiling.
func (p *Pool) Finish() []gwtypes.CellOutput {
	var outs []gwtypes.CellOutput
	for _, b := range p.SUDT {
		if b.Balance.IsZero() && b.Capacity == 0 {
			continue
		}
		data := make([]byte, 16)
		be := b.Balance.Bytes()
		for i := 0; i < len(be) && i < 16; i++ {
			data[15-i] = be[len(be)-1-i]
		}
		outs = append(outs, gwtypes.CellOutput{Capacity: b.Capacity, Type: &b.Script, Data: data})
	}
	if p.CKBCapacity > 0 {
		for _, capacity := range SplitCKBChange(new(big.Int).SetUint64(p.CKBCapacity), p.MinCapacity) {
			outs = append(outs, gwtypes.CellOutput{Capacity: capacity})
		}
	}
	return outs
}

// SplitCKBChange splits a CKB custodian-change total into output
// capacities no greater than math.MaxUint64, keeping any remainder at
// or above minCapacity by halving the total evenly rather than leaving
// a below-minimum remainder cell.
func SplitCKBChange(total *big.Int, minCapacity uint64) []uint64 {
	maxU64 := new(big.Int).SetUint64(math.MaxUint64)
	if total.Cmp(maxU64) <= 0 {
		return []uint64{total.Uint64()}
	}
	remainder := new(big.Int).Sub(total, maxU64)
	if remainder.Cmp(new(big.Int).SetUint64(minCapacity)) >= 0 && remainder.Cmp(maxU64) <= 0 {
		return []uint64{maxU64.Uint64(), remainder.Uint64()}
	}
	half := new(big.Int).Rsh(total, 1)
	other := new(big.Int).Sub(total, half)
	return []uint64{half.Uint64(), other.Uint64()}
}

// UserWithdrawalOutput is one packed user-withdrawal output, after
// capacity-minimum borrowing.
type UserWithdrawalOutput struct {
	Lock     gwtypes.Script
	SudtHash gwtypes.Hash
	Capacity uint64
	Balance  *uint256.Int
}

type aggKey struct {
	lockHash gwtypes.Hash
	sudtHash gwtypes.Hash
}

// AggregateUserWithdrawals merges withdrawal requests by (recipient
// lock, sudt type), summing CKB and per-SUDT balances, then borrows
// capacity from the recipient's fulfilled CKB-only output to satisfy
// any SUDT output's occupied-capacity minimum, and finally sorts the
// result by balance descending.
func AggregateUserWithdrawals(reqs []gwtypes.WithdrawalRequest, lockOf func(gwtypes.WithdrawalRequest) gwtypes.Script, minCapacity uint64) []UserWithdrawalOutput {
	agg := make(map[aggKey]*UserWithdrawalOutput)
	var order []aggKey

	for _, r := range reqs {
		lock := lockOf(r)
		lockHash := hashScript(lock)
		k := aggKey{lockHash: lockHash, sudtHash: r.SudtScriptHash}
		out, ok := agg[k]
		if !ok {
			out = &UserWithdrawalOutput{Lock: lock, SudtHash: r.SudtScriptHash, Balance: new(uint256.Int)}
			agg[k] = out
			order = append(order, k)
		}
		out.Capacity += r.Capacity
		if r.SudtScriptHash != (gwtypes.Hash{}) {
			out.Balance = new(uint256.Int).Add(out.Balance, u128FromLE(r.Amount))
		}
	}

	// Borrow capacity from a CKB-only output under the same lock to top
	// up any SUDT output that falls short of its own minimum.
	for _, k := range order {
		out := agg[k]
		if out.SudtHash == (gwtypes.Hash{}) {
			continue
		}
		needed := gwtypes.CellOutput{Capacity: out.Capacity, Type: &gwtypes.Script{}, Data: make([]byte, 16), Lock: out.Lock}.OccupiedCapacity()
		if out.Capacity >= needed {
			continue
		}
		shortfall := needed - out.Capacity
		ckbKey := aggKey{lockHash: k.lockHash, sudtHash: gwtypes.Hash{}}
		donor, ok := agg[ckbKey]
		if !ok || donor.Capacity < shortfall+minCapacity {
			continue
		}
		donor.Capacity -= shortfall
		out.Capacity += shortfall
	}

	outs := make([]UserWithdrawalOutput, 0, len(order))
	for _, k := range order {
		outs = append(outs, *agg[k])
	}
	sort.Slice(outs, func(i, j int) bool {
		return sortKey(outs[i]).Cmp(sortKey(outs[j])) > 0
	})
	return outs
}

// sortKey is the value an output is ranked by: its SUDT balance, or for
// a CKB-only output (no SUDT type) its capacity, which is CKB's balance.
func sortKey(o UserWithdrawalOutput) *uint256.Int {
	if o.SudtHash == (gwtypes.Hash{}) {
		return new(uint256.Int).SetUint64(o.Capacity)
	}
	return o.Balance
}

func hashScript(s gwtypes.Script) gwtypes.Hash {
	return codec.HashScript(s)
}
