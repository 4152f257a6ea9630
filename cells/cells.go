// Package cells implements the deposit/withdrawal/custodian cell
// typology and conservation helpers: Collect, ToCustodian,
// SumWithdrawals, FinalityPartition. Builds on the same collection/
// aggregation shape as a single L1<->L2 ETH/ERC20 bridge, generalized to
// CKB's multi-cell-type ledger.
package cells

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// Source identifies which side of an L1 transaction to scan.
type Source int

const (
	SourceInputs Source = iota
	SourceOutputs
)

// ParsedCell is a CellOutput together with its role-specific parsed
// lock args and asset fields, as returned by Collect.
type ParsedCell struct {
	Cell           gwtypes.CellOutput
	Kind           gwtypes.CellKind
	SudtScriptHash gwtypes.Hash
	Amount         [16]byte
	Custodian      *gwtypes.CustodianLockArgs
	Deposit        *gwtypes.DepositLockArgs
	Withdrawal     *gwtypes.WithdrawalLockArgs
}

// KindCodeHashes maps each cell kind to the lock code hash that
// identifies it, set once from rollup configuration.
type KindCodeHashes map[gwtypes.CellKind]gwtypes.Hash

// Collect scans cells (inputs or outputs of an L1 transaction) and
// returns every one matching (lock.code_hash == expected kind's type
// hash && lock.args[..32] == rollupTypeHash), with typed args parsed.
func Collect(cellsList []gwtypes.CellOutput, kind gwtypes.CellKind, codeHashes KindCodeHashes, rollupTypeHash gwtypes.Hash) ([]ParsedCell, error) {
	expected, ok := codeHashes[kind]
	if !ok {
		return nil, fmt.Errorf("cells: no code hash configured for kind %d", kind)
	}
	var out []ParsedCell
	for _, c := range cellsList {
		if c.Lock.CodeHash != expected {
			continue
		}
		if len(c.Lock.Args) < 32 {
			continue
		}
		var argsRollupHash gwtypes.Hash
		copy(argsRollupHash[:], c.Lock.Args[:32])
		if argsRollupHash != rollupTypeHash {
			continue
		}
		pc, err := parseCell(c, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}

func parseCell(c gwtypes.CellOutput, kind gwtypes.CellKind) (ParsedCell, error) {
	pc := ParsedCell{Cell: c, Kind: kind}
	if c.Type != nil {
		pc.SudtScriptHash = codec.HashScript(*c.Type)
	}
	if len(c.Data) >= 16 {
		copy(pc.Amount[:], c.Data[:16])
	}
	r := codec.NewReader(c.Lock.Args[32:])
	switch kind {
	case gwtypes.CellKindCustodian:
		dbn, err := r.ReadU64()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: custodian args: %v", gwerrors.ErrEncoding, err)
		}
		dbh, err := r.ReadHash()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: custodian args: %v", gwerrors.ErrEncoding, err)
		}
		rest := c.Lock.Args[32+8+32:]
		pc.Custodian = &gwtypes.CustodianLockArgs{
			DepositBlockNumber: gwtypes.CompatibleFinalizedTimepoint(dbn),
			DepositBlockHash:   dbh,
			DepositLockArgs:    rest,
		}
	case gwtypes.CellKindDeposit:
		ownerLockHash, err := r.ReadHash()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: deposit args: %v", gwerrors.ErrEncoding, err)
		}
		layer2Lock, err := r.ReadScript()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: deposit args: %v", gwerrors.ErrEncoding, err)
		}
		cancelTimeout, err := r.ReadU64()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: deposit args: %v", gwerrors.ErrEncoding, err)
		}
		registryID, err := r.ReadU32()
		if err != nil {
			return pc, fmt.Errorf("cells: %w: deposit args: %v", gwerrors.ErrEncoding, err)
		}
		pc.Deposit = &gwtypes.DepositLockArgs{
			OwnerLockHash: ownerLockHash,
			Layer2Lock:    layer2Lock,
			CancelTimeout: cancelTimeout,
			RegistryID:    gwtypes.RegistryID(registryID),
		}
	case gwtypes.CellKindWithdrawal:
		wla, err := parseWithdrawalLockArgs(c.Lock.Args[32:])
		if err != nil {
			return pc, err
		}
		pc.Withdrawal = wla
	}
	return pc, nil
}

func parseWithdrawalLockArgs(args []byte) (*gwtypes.WithdrawalLockArgs, error) {
	r := codec.NewReader(args)
	var w gwtypes.WithdrawalLockArgs
	var err error
	if w.AccountScriptHash, err = r.ReadHash(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.WithdrawalBlockHash, err = r.ReadHash(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.WithdrawalBlockNum, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.SudtScriptHash, err = r.ReadHash(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.SellAmount, err = r.ReadU128(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.SellCapacity, err = r.ReadU64(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.OwnerLockHash, err = r.ReadHash(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.PaymentLockHash, err = r.ReadHash(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	if w.OwnerLock, err = r.ReadScript(); err != nil {
		return nil, fmt.Errorf("cells: %w: withdrawal args", gwerrors.ErrEncoding)
	}
	return &w, nil
}

// ToCustodian rewraps a parsed deposit cell into a custodian CellOutput:
// args = rollup_type_hash || deposit_block_number (timepoint) ||
// deposit_block_hash || original deposit lock args (after its
// rollup_type_hash); type script and data are preserved. If
// the resulting occupied capacity exceeds the deposit's capacity, it
// fails carrying the required minimum.
func ToCustodian(deposit ParsedCell, depositBlockHash gwtypes.Hash, depositBlockNumber gwtypes.CompatibleFinalizedTimepoint, custodianCodeHash, rollupTypeHash gwtypes.Hash) (gwtypes.CellOutput, error) {
	w := codec.NewWriter(96)
	w.WriteHash(rollupTypeHash)
	w.WriteU64(uint64(depositBlockNumber))
	w.WriteHash(depositBlockHash)
	w.WriteRaw(deposit.Cell.Lock.Args[32:])

	out := gwtypes.CellOutput{
		Capacity: deposit.Cell.Capacity,
		Lock:     gwtypes.Script{CodeHash: custodianCodeHash, HashType: gwtypes.HashTypeType, Args: w.Bytes()},
		Type:     deposit.Cell.Type,
		Data:     deposit.Cell.Data,
	}
	if out.OccupiedCapacity() > out.Capacity {
		return gwtypes.CellOutput{}, fmt.Errorf("%w: insufficient capacity, required at least %d", gwerrors.ErrInvalidDepositCell, out.OccupiedCapacity())
	}
	return out, nil
}

// ToWithdrawal builds an output withdrawal cell for req: args =
// (rollup_type_hash, account_script_hash, withdrawal_block_hash,
// withdrawal_block_number, sudt_script_hash, sell_amount,
// sell_capacity, owner_lock_hash, payment_lock_hash, owner_lock), the
// exact layout parseWithdrawalLockArgs reads back. sell_amount/
// sell_capacity are left zero: this engine has no secondary market for
// partial withdrawal sales.
func ToWithdrawal(req gwtypes.WithdrawalRequest, withdrawalBlockHash gwtypes.Hash, withdrawalBlockNumber uint64, withdrawalCodeHash, rollupTypeHash gwtypes.Hash, ownerLock gwtypes.Script, sudtType *gwtypes.Script) gwtypes.CellOutput {
	w := codec.NewWriter(32 + 32 + 32 + 8 + 32 + 16 + 8 + 32 + 32 + 64 + len(ownerLock.Args))
	w.WriteHash(rollupTypeHash)
	w.WriteHash(req.AccountScriptHash)
	w.WriteHash(withdrawalBlockHash)
	w.WriteU64(withdrawalBlockNumber)
	w.WriteHash(req.SudtScriptHash)
	w.WriteU128([16]byte{})
	w.WriteU64(0)
	w.WriteHash(req.OwnerLockHash)
	w.WriteHash(req.PaymentLockHash)
	w.WriteScript(ownerLock)

	return gwtypes.CellOutput{
		Capacity: req.Capacity,
		Lock:     gwtypes.Script{CodeHash: withdrawalCodeHash, HashType: gwtypes.HashTypeType, Args: w.Bytes()},
		Type:     sudtType,
		Data:     append([]byte(nil), req.Amount[:]...),
	}
}

// AssetTotals is the folded {capacity, per-sudt amount} aggregate used
// throughout conservation checks. SUDT amounts are u128 values, held in
// a uint256.Int rather than a big.Int since nothing downstream needs a
// big.Int-typed amount.
type AssetTotals struct {
	Capacity *big.Int
	SUDT     map[gwtypes.Hash]*uint256.Int
}

// NewAssetTotals returns a zeroed AssetTotals.
func NewAssetTotals() AssetTotals {
	return AssetTotals{Capacity: new(big.Int), SUDT: make(map[gwtypes.Hash]*uint256.Int)}
}

var maxU128 = new(uint256.Int).Rsh(new(uint256.Int).SetAllOne(), 128)

// addSudt adds amount (LE u128 bytes) under sudtHash, erroring on
// overflow past the u128 ceiling.
func (t AssetTotals) addSudt(sudtHash gwtypes.Hash, amount [16]byte) error {
	v := new(uint256.Int).SetBytes(reverse(amount[:]))
	cur, ok := t.SUDT[sudtHash]
	if !ok {
		cur = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, v)
	if overflow || sum.Cmp(maxU128) > 0 {
		return gwerrors.ErrAmountOverflow
	}
	t.SUDT[sudtHash] = sum
	return nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// SumCells folds a set of parsed cells into {capacity, per-sudt amount},
// erroring on u128 overflow. Cells carrying a zero sudt_script_hash
// contribute capacity only.
func SumCells(pcs []ParsedCell) (AssetTotals, error) {
	totals := NewAssetTotals()
	zeroSudt := gwtypes.Hash{}
	for _, c := range pcs {
		totals.Capacity.Add(totals.Capacity, new(big.Int).SetUint64(c.Cell.Capacity))
		if c.SudtScriptHash != zeroSudt {
			if err := totals.addSudt(c.SudtScriptHash, c.Amount); err != nil {
				return AssetTotals{}, err
			}
		}
	}
	return totals, nil
}

// Equal reports whether t and other commit to the same {capacity,
// per-sudt amount} aggregate -- every SUDT bucket on each side must be
// present, with an equal amount, on the other.
func (t AssetTotals) Equal(other AssetTotals) bool {
	if t.Capacity.Cmp(other.Capacity) != 0 {
		return false
	}
	if len(t.SUDT) != len(other.SUDT) {
		return false
	}
	for h, v := range t.SUDT {
		ov, ok := other.SUDT[h]
		if !ok || v.Cmp(ov) != 0 {
			return false
		}
	}
	return true
}

// SumWithdrawals folds withdrawal requests into {capacity, per-sudt
// amount}, erroring on u128 overflow.
func SumWithdrawals(reqs []gwtypes.WithdrawalRequest) (AssetTotals, error) {
	totals := NewAssetTotals()
	for _, w := range reqs {
		totals.Capacity.Add(totals.Capacity, new(big.Int).SetUint64(w.Capacity))
		zeroSudt := gwtypes.Hash{}
		if w.SudtScriptHash != zeroSudt {
			if err := totals.addSudt(w.SudtScriptHash, w.Amount); err != nil {
				return AssetTotals{}, err
			}
		}
	}
	return totals, nil
}

// FinalityPartition splits cells into finalized/unfinalized buckets
// under the given finality timepoint and tip context.
func FinalityPartition(custodians []ParsedCell, tipNumber, tipTimestampMs, finalityBlocks, finalityMs uint64) (finalized, unfinalized []ParsedCell) {
	for _, c := range custodians {
		if c.Custodian == nil {
			unfinalized = append(unfinalized, c)
			continue
		}
		if c.Custodian.DepositBlockNumber.IsFinalized(tipNumber, tipTimestampMs, finalityBlocks, finalityMs) {
			finalized = append(finalized, c)
		} else {
			unfinalized = append(unfinalized, c)
		}
	}
	return
}
