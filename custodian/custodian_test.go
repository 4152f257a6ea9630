package custodian

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

func ckbCandidate(capacity uint64, local bool) Candidate {
	return Candidate{Cell: cells.ParsedCell{Cell: gwtypes.CellOutput{Capacity: capacity}}, Local: local}
}

func sudtCandidate(capacity uint64, amount uint64, sudtHash gwtypes.Hash, local bool) Candidate {
	var amt [16]byte
	big.NewInt(0).SetUint64(amount).FillBytes(amt[:])
	reverse := [16]byte{}
	for i := range amt {
		reverse[i] = amt[15-i]
	}
	return Candidate{
		Cell: cells.ParsedCell{
			Cell:           gwtypes.CellOutput{Capacity: capacity},
			SudtScriptHash: sudtHash,
			Amount:         reverse,
		},
		Local: local,
	}
}

func TestCollectStopsOnceSatisfied(t *testing.T) {
	local := []Candidate{ckbCandidate(100, true), ckbCandidate(50, true)}
	indexer := []Candidate{ckbCandidate(10, false)}
	req := Requirement{Capacity: 120}

	got, err := Collect(local, indexer, req, 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total uint64
	for _, c := range got {
		total += c.Cell.Cell.Capacity
	}
	if total < req.Capacity {
		t.Fatalf("collected %d < required %d", total, req.Capacity)
	}
	// ascending order within the local pool: 50 before 100.
	if got[0].Cell.Cell.Capacity != 50 {
		t.Fatalf("expected smallest-capacity cell first, got %d", got[0].Cell.Cell.Capacity)
	}
}

func TestCollectFallsBackToIndexer(t *testing.T) {
	local := []Candidate{ckbCandidate(10, true)}
	indexer := []Candidate{ckbCandidate(200, false)}
	req := Requirement{Capacity: 150}

	got, err := Collect(local, indexer, req, 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both cells consumed, got %d", len(got))
	}
}

func TestCollectExceedsMaxCells(t *testing.T) {
	var local []Candidate
	for i := 0; i < 5; i++ {
		local = append(local, ckbCandidate(1, true))
	}
	req := Requirement{Capacity: 100}
	if _, err := Collect(local, nil, req, 3); err != ErrNotEnough {
		t.Fatalf("expected ErrNotEnough, got %v", err)
	}
}

func TestCollectCappedSatisfiesMultipleSudtTypes(t *testing.T) {
	typeA := gwtypes.Hash{0xA1}
	typeB := gwtypes.Hash{0xB2}
	local := []Candidate{
		sudtCandidate(10_000_000_00, 50, typeA, true),
		sudtCandidate(10_000_000_00, 5, typeB, true),
		sudtCandidate(10_000_000_00, 50, typeB, true),
		ckbCandidate(100, true),
	}
	req := Requirement{
		Capacity: 50,
		SUDT: map[gwtypes.Hash]*uint256.Int{
			typeA: uint256.NewInt(40),
			typeB: uint256.NewInt(40),
		},
	}
	got, err := CollectCapped(local, nil, req, 10)
	if err != nil {
		t.Fatalf("CollectCapped: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected a non-empty collection")
	}
}

func TestPoolWithdrawDecrementsSudtThenCollapses(t *testing.T) {
	sudtHash := gwtypes.Hash{0x01}
	const capacity = 10_000_000_000 // comfortably above the occupied-capacity minimum below
	collected := []Candidate{sudtCandidate(capacity, 100, sudtHash, true)}
	pool := NewPool(collected, 6_100_000_00)

	var amt [16]byte
	big.NewInt(100).FillBytes(amt[12:])
	for i, j := 0, 15; i < j; i, j = i+1, j-1 {
		amt[i], amt[j] = amt[j], amt[i]
	}
	req := gwtypes.WithdrawalRequest{Capacity: capacity, SudtScriptHash: sudtHash, Amount: amt}

	if err := pool.Withdraw(req, 0, 0); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if _, ok := pool.SUDT[sudtHash]; ok {
		t.Fatal("expected the fully-drained SUDT bucket to collapse away")
	}
	// the collapsed capacity folds into the CKB pool and the same
	// withdrawal's CKB leg immediately spends it back down to zero.
	if pool.CKBCapacity != 0 {
		t.Fatalf("expected CKB pool drained to zero, got %d", pool.CKBCapacity)
	}
}

func TestPoolWithdrawRejectsInsufficientCapacity(t *testing.T) {
	pool := NewPool([]Candidate{ckbCandidate(100, true)}, 10)
	req := gwtypes.WithdrawalRequest{Capacity: 1000}
	if err := pool.Withdraw(req, 22, 0); err == nil {
		t.Fatal("expected rejection for a withdrawal exceeding available CKB capacity")
	}
}

func TestSplitCKBChangeSingleCell(t *testing.T) {
	got := SplitCKBChange(big.NewInt(1_000), 10)
	if len(got) != 1 || got[0] != 1000 {
		t.Fatalf("expected a single cell, got %v", got)
	}
}

func TestSplitCKBChangeOverflowsIntoTwoCells(t *testing.T) {
	maxU64 := new(big.Int).SetUint64(math.MaxUint64)
	total := new(big.Int).Mul(maxU64, big.NewInt(2))
	got := SplitCKBChange(total, 61_00_000_00)
	if len(got) != 2 {
		t.Fatalf("expected exactly two change cells, got %v", got)
	}
	sum := new(big.Int).Add(new(big.Int).SetUint64(got[0]), new(big.Int).SetUint64(got[1]))
	if sum.Cmp(total) != 0 {
		t.Fatalf("expected split capacities to sum back to the total, got sum=%s want=%s", sum, total)
	}
}

func TestAggregateUserWithdrawalsSortsByBalanceDescending(t *testing.T) {
	lockA := gwtypes.Script{Args: []byte{1}}
	lockB := gwtypes.Script{Args: []byte{2}}
	reqs := []gwtypes.WithdrawalRequest{
		{Capacity: 100, OwnerLockHash: gwtypes.Hash{1}},
		{Capacity: 500, OwnerLockHash: gwtypes.Hash{2}},
	}
	lockOf := func(r gwtypes.WithdrawalRequest) gwtypes.Script {
		if r.OwnerLockHash == (gwtypes.Hash{1}) {
			return lockA
		}
		return lockB
	}
	outs := AggregateUserWithdrawals(reqs, lockOf, 6_100_000_00)
	if len(outs) != 2 {
		t.Fatalf("expected two distinct aggregated outputs, got %d", len(outs))
	}
	if outs[0].Capacity < outs[1].Capacity {
		t.Fatal("expected outputs sorted by balance/capacity descending")
	}
}

func TestAggregateUserWithdrawalsMergesSameLockAndType(t *testing.T) {
	lock := gwtypes.Script{Args: []byte{9}}
	reqs := []gwtypes.WithdrawalRequest{
		{Capacity: 100},
		{Capacity: 150},
	}
	lockOf := func(gwtypes.WithdrawalRequest) gwtypes.Script { return lock }
	outs := AggregateUserWithdrawals(reqs, lockOf, 0)
	if len(outs) != 1 {
		t.Fatalf("expected merged into a single output, got %d", len(outs))
	}
	if outs[0].Capacity != 250 {
		t.Fatalf("expected merged capacity 250, got %d", outs[0].Capacity)
	}
}
