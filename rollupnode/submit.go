package rollupnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/custodian"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/psc"
	"github.com/godwokenrises/godwoken-core/validator"
)

// ComposedTransaction is the L1 transaction a Submitter builds for one
// block: input cell references, output cells in order, and the since
// field enforcing block-timestamp monotonicity through L1's median-time
// rule.
type ComposedTransaction struct {
	Inputs  []gwtypes.Hash
	Outputs []gwtypes.CellOutput
	Since   uint64
}

// CellSource resolves the L1 cells a block-submission transaction is
// composed from. It is the seam where a CKB RPC/indexer client plugs
// in; this package only ever consumes the interface, never a transport.
type CellSource interface {
	// PrevRollupCell returns the current rollup cell's reference and cell.
	PrevRollupCell(ctx context.Context) (ref gwtypes.Hash, cell gwtypes.CellOutput, err error)
	// StakeCell returns the block producer's stake cell reference and cell.
	StakeCell(ctx context.Context, ownerLockHash gwtypes.Hash) (ref gwtypes.Hash, cell gwtypes.CellOutput, err error)
	// FinalizedCustodians returns the available finalized custodian
	// candidates (local off-chain cells, then L1-indexer cells) custodian.Collect
	// selects from to cover req.
	FinalizedCustodians(ctx context.Context, req custodian.Requirement) (local, indexer []custodian.Candidate, err error)
	// Deposits returns the deposit cells block consumes as inputs.
	Deposits(ctx context.Context, block gwtypes.L2Block) (refs []gwtypes.Hash, parsed []cells.ParsedCell, err error)
	// RevertedWithdrawals returns the withdrawal cells swept back in as
	// inputs by a revert adjacent to this block, if any.
	RevertedWithdrawals(ctx context.Context, block gwtypes.L2Block) (refs []gwtypes.Hash, parsed []cells.ParsedCell, err error)
	// ResolveOwnerLock maps a withdrawal request's owner_lock_hash to
	// its full lock script, needed to build the request's output cell.
	ResolveOwnerLock(ctx context.Context, ownerLockHash gwtypes.Hash) (gwtypes.Script, error)
}

// L1Client is the narrow L1 RPC surface Submit needs beyond cell
// resolution: the tip's median time, to gate the since wait, and
// transaction broadcast.
type L1Client interface {
	TipMedianTimeMs(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx ComposedTransaction) (gwtypes.Hash, error)
}

// Submitter implements psc.Submitter: it composes the Submit
// transaction for a produced block and broadcasts it, gating on L1's
// median-time rule first.
//
// Grounded on the same propose/assemble split used for building and
// broadcasting a sealed block, generalized from a single coinbase
// output to CKB's multi-kind cell outputs.
type Submitter struct {
	cfg             validator.RollupConfig
	src             CellSource
	l1              L1Client
	minCellCapacity uint64
	paymentLock     gwtypes.Script
}

// NewSubmitter constructs a Submitter. minCellCapacity is the minimum
// capacity a custodian change cell may carry; paymentLock receives any
// capacity left over once every output cell is funded.
func NewSubmitter(cfg validator.RollupConfig, src CellSource, l1 L1Client, minCellCapacity uint64, paymentLock gwtypes.Script) *Submitter {
	return &Submitter{cfg: cfg, src: src, l1: l1, minCellCapacity: minCellCapacity, paymentLock: paymentLock}
}

var _ psc.Submitter = (*Submitter)(nil)

// sinceSeconds computes timestamp_seconds(block.timestamp_ms/1000 + 1),
// the transaction's since value: one second past the block's own
// timestamp, so L1's median-time rule enforces that later blocks carry
// later timestamps.
func sinceSeconds(blockTimestampMs uint64) uint64 {
	return blockTimestampMs/1000 + 1
}

// Submit composes and broadcasts pb's L1 transaction. It first checks
// the L1 tip's median time against the block's since requirement; the
// reactor's own submit-retry backoff does the polling; returning
// ErrMedianTimeNotReached here is how the poll continues without this
// call blocking its goroutine.
func (s *Submitter) Submit(ctx context.Context, pb psc.ProducedBlock) (gwtypes.Hash, error) {
	since := sinceSeconds(pb.Block.Timestamp)
	medianMs, err := s.l1.TipMedianTimeMs(ctx)
	if err != nil {
		return gwtypes.Hash{}, fmt.Errorf("%w: tip median time: %v", gwerrors.ErrRPC, err)
	}
	if medianMs < since*1000 {
		return gwtypes.Hash{}, gwerrors.ErrMedianTimeNotReached
	}

	txn, err := s.compose(ctx, pb)
	if err != nil {
		return gwtypes.Hash{}, err
	}
	hash, err := s.l1.SendTransaction(ctx, txn)
	if err != nil {
		if errors.Is(err, gwerrors.ErrTransactionFailedToResolve) || errors.Is(err, gwerrors.ErrRPC) {
			return gwtypes.Hash{}, err
		}
		return gwtypes.Hash{}, fmt.Errorf("%w: broadcasting submit tx: %v", gwerrors.ErrRPC, err)
	}
	return hash, nil
}

// compose builds the Submit transaction's inputs and outputs: inputs =
// previous rollup cell + finalized custodians + stake cell + deposits +
// reverted-withdrawal cells; outputs = new rollup cell + custodian
// change + withdrawal cells + stake cell + newly-minted custodian cells
// + payment change.
func (s *Submitter) compose(ctx context.Context, pb psc.ProducedBlock) (ComposedTransaction, error) {
	block := pb.Block
	blockHash := validator.HashBlock(block)

	prevRef, prevCell, err := s.src.PrevRollupCell(ctx)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: prev rollup cell: %w", err)
	}
	stakeRef, stakeCell, err := s.src.StakeCell(ctx, block.StakeCellOwnerLockHash)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: stake cell: %w", err)
	}
	depositRefs, deposits, err := s.src.Deposits(ctx, block)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: deposits: %w", err)
	}
	revertedRefs, revertedWithdrawals, err := s.src.RevertedWithdrawals(ctx, block)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: reverted withdrawals: %w", err)
	}

	withdrawalReq, err := cells.SumWithdrawals(block.WithdrawalRequests)
	if err != nil {
		return ComposedTransaction{}, err
	}
	custodianReq := custodian.Requirement{Capacity: withdrawalReq.Capacity.Uint64(), SUDT: withdrawalReq.SUDT}
	local, indexer, err := s.src.FinalizedCustodians(ctx, custodianReq)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: finalized custodians: %w", err)
	}
	collected, err := custodian.Collect(local, indexer, custodianReq, custodian.DefaultMaxCells)
	if err != nil {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: collecting finalized custodians: %w", err)
	}

	pool := custodian.NewPool(collected, s.minCellCapacity)
	withdrawalOutputs, err := s.composeWithdrawalOutputs(ctx, &pool, block, blockHash)
	if err != nil {
		return ComposedTransaction{}, err
	}
	custodianChange := pool.Finish()

	custodianMints := make([]gwtypes.CellOutput, len(deposits))
	for i, d := range deposits {
		mint, err := cells.ToCustodian(d, blockHash, gwtypes.NewLegacyTimepoint(block.Number), s.cfg.CellCodeHashes[gwtypes.CellKindCustodian], s.cfg.RollupTypeHash)
		if err != nil {
			return ComposedTransaction{}, err
		}
		custodianMints[i] = mint
	}

	newStakeArgs := codec.NewWriter(72)
	newStakeArgs.WriteHash(s.cfg.RollupTypeHash)
	newStakeArgs.WriteHash(block.StakeCellOwnerLockHash)
	newStakeArgs.WriteU64(block.Number)
	newStakeCell := gwtypes.CellOutput{
		Capacity: stakeCell.Capacity,
		Lock:     gwtypes.Script{CodeHash: stakeCell.Lock.CodeHash, HashType: stakeCell.Lock.HashType, Args: newStakeArgs.Bytes()},
	}

	newRollupCell := gwtypes.CellOutput{
		Capacity: prevCell.Capacity,
		Lock:     prevCell.Lock,
		Type:     prevCell.Type,
		Data:     rollupCellData(pb.PostState),
	}

	inputs := make([]gwtypes.Hash, 0, 2+len(collected)+len(depositRefs)+len(revertedRefs))
	inputs = append(inputs, prevRef)
	for _, c := range collected {
		inputs = append(inputs, c.Ref)
	}
	inputs = append(inputs, stakeRef)
	inputs = append(inputs, depositRefs...)
	inputs = append(inputs, revertedRefs...)

	outputs := make([]gwtypes.CellOutput, 0, 2+len(custodianChange)+len(withdrawalOutputs)+len(custodianMints))
	outputs = append(outputs, newRollupCell)
	outputs = append(outputs, custodianChange...)
	outputs = append(outputs, withdrawalOutputs...)
	outputs = append(outputs, newStakeCell)
	outputs = append(outputs, custodianMints...)

	inCapacity := prevCell.Capacity + stakeCell.Capacity
	for _, c := range collected {
		inCapacity += c.Cell.Cell.Capacity
	}
	for _, d := range deposits {
		inCapacity += d.Cell.Capacity
	}
	for _, rw := range revertedWithdrawals {
		inCapacity += rw.Cell.Capacity
	}
	var outCapacity uint64
	for _, o := range outputs {
		outCapacity += o.Capacity
	}
	if inCapacity < outCapacity {
		return ComposedTransaction{}, fmt.Errorf("rollupnode: composed outputs exceed input capacity by %d shannons", outCapacity-inCapacity)
	}
	if change := inCapacity - outCapacity; change > 0 {
		outputs = append(outputs, gwtypes.CellOutput{Capacity: change, Lock: s.paymentLock})
	}

	return ComposedTransaction{Inputs: inputs, Outputs: outputs, Since: sinceSeconds(block.Timestamp)}, nil
}

// composeWithdrawalOutputs packs one output cell per withdrawal
// request, debiting pool as it goes so the remaining balance becomes
// custodian change.
func (s *Submitter) composeWithdrawalOutputs(ctx context.Context, pool *custodian.Pool, block gwtypes.L2Block, blockHash gwtypes.Hash) ([]gwtypes.CellOutput, error) {
	outs := make([]gwtypes.CellOutput, len(block.WithdrawalRequests))
	for i, req := range block.WithdrawalRequests {
		ownerLock, err := s.src.ResolveOwnerLock(ctx, req.OwnerLockHash)
		if err != nil {
			return nil, fmt.Errorf("rollupnode: resolving withdrawal %d owner lock: %w", i, err)
		}
		var sudtType *gwtypes.Script
		if req.SudtScriptHash != (gwtypes.Hash{}) {
			b, ok := pool.SUDT[req.SudtScriptHash]
			if !ok {
				return nil, fmt.Errorf("rollupnode: no custodian SUDT pool for withdrawal %d", i)
			}
			t := b.Script
			sudtType = &t
		}
		if err := pool.Withdraw(req, len(ownerLock.Args), sudtArgsLen(sudtType)); err != nil {
			return nil, fmt.Errorf("rollupnode: packing withdrawal %d: %w", i, err)
		}
		outs[i] = cells.ToWithdrawal(req, blockHash, block.Number, s.cfg.CellCodeHashes[gwtypes.CellKindWithdrawal], s.cfg.RollupTypeHash, ownerLock, sudtType)
	}
	return outs, nil
}

func sudtArgsLen(s *gwtypes.Script) int {
	if s == nil {
		return 0
	}
	return len(s.Args)
}

// rollupCellData returns the rollup cell's data payload: the same
// fixed-offset byte layout codec.HashGlobalState hashes.
func rollupCellData(state gwtypes.GlobalState) []byte {
	w := codec.NewWriter(256)
	w.WriteHash(state.Account.Root)
	w.WriteU64(state.Account.Count)
	w.WriteHash(state.Block.Root)
	w.WriteU64(state.Block.Count)
	w.WriteHash(state.TipBlockHash)
	w.WriteU64(uint64(state.LastFinalizedBlockNumber))
	w.WriteHash(state.RevertedBlockRoot)
	w.WriteU8(uint8(state.Status))
	w.WriteU32(state.Version)
	w.WriteHash(state.RollupConfigHash)
	return w.Bytes()
}
