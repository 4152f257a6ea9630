// Package validator implements the on-L1 block-submission state
// transition rule: a deterministic, one-shot predicate over
// an L1 transaction's rollup cell, block witness, and deposit/
// withdrawal/custodian/stake/challenge cells. Any check failing aborts
// with a typed gwerrors error; there is no partial acceptance.
//
// Grounded on the same structural pre-checks/state-checks split as
// block_validator.go (structural pre-checks) and header_validator.go
// (field-by-field linkage checks) -- the split between "does this
// block's envelope agree with its parent" and "does the claimed
// post-state reconstruct" mirrors geth-style ValidateBody/ValidateState.
package validator

import (
	"bytes"
	"fmt"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/smt"
)

// RollupConfig carries the fixed parameters a submission is checked
// against.
type RollupConfig struct {
	RollupTypeHash          gwtypes.Hash
	RequiredStakingCapacity uint64
	FinalityBlocks          uint64
	FinalityMs              uint64
	CKBSudtScriptArgs       gwtypes.Hash
	CellCodeHashes          cells.KindCodeHashes
}

// L1TxContext is the relevant slice of an L1 transaction's cells, split
// into inputs and outputs, needed to check a block submission.
type L1TxContext struct {
	InputCells  []gwtypes.CellOutput
	OutputCells []gwtypes.CellOutput

	TipNumber      uint64
	TipTimestampMs uint64
}

// SubmitBlock runs all nine checks and returns the first
// violation encountered, or nil if the submission is valid.
func SubmitBlock(cfg RollupConfig, prev, post gwtypes.GlobalState, block gwtypes.L2Block, tx L1TxContext) error {
	if prev.Status != gwtypes.StatusRunning {
		return fmt.Errorf("%w: precondition: previous status must be Running", gwerrors.ErrInvalidBlock)
	}
	if err := checkBlockLinkage(prev, post, block); err != nil {
		return err
	}
	if err := checkPrevPostAccountAgreement(prev, post, block); err != nil {
		return err
	}
	if err := checkStake(cfg, block, tx); err != nil {
		return err
	}
	deposits, custodiansOut, withdrawalsOut, custodiansIn, revertedWithdrawalsIn, revertedDepositsOut, err := collectAll(cfg, tx)
	if err != nil {
		return err
	}
	if err := checkDepositMinting(cfg, deposits, block); err != nil {
		return err
	}
	if err := checkWithdrawalCells(withdrawalsOut, block, tx); err != nil {
		return err
	}
	if err := checkCustodianConservation(cfg, block, deposits, custodiansIn, custodiansOut, withdrawalsOut, revertedWithdrawalsIn, revertedDepositsOut, tx); err != nil {
		return err
	}
	if err := checkTxWitnessRoot(block); err != nil {
		return err
	}
	if err := checkNoChallengeCells(cfg, tx); err != nil {
		return err
	}
	if err := checkPostStateDerivation(cfg, prev, post, block); err != nil {
		return err
	}
	return nil
}

// 1. Block linkage.
func checkBlockLinkage(prev, post gwtypes.GlobalState, block gwtypes.L2Block) error {
	if block.Number != prev.Block.Count {
		return fmt.Errorf("%w: block.number %d != prev.block.count %d", gwerrors.ErrInvalidBlock, block.Number, prev.Block.Count)
	}
	if block.ParentBlockHash != prev.TipBlockHash {
		return fmt.Errorf("%w: parent_block_hash mismatch", gwerrors.ErrInvalidBlock)
	}
	if len(block.BlockProof) == 0 {
		// A missing proof is treated as a structural encoding failure.
		// Only the presence of block.BlockProof is checked: no SMT
		// membership check (prev.block.root -> zero slot,
		// post.block.root -> block_hash slot) is made on it, here or
		// elsewhere in this module.
		return fmt.Errorf("%w: missing block proof", gwerrors.ErrMerkleProof)
	}
	return nil
}

// HashBlock returns a block's canonical linkage hash, committed as
// global_state.tip_block_hash and stamped into minted custodian cells'
// deposit_block_hash args.
func HashBlock(block gwtypes.L2Block) gwtypes.Hash {
	w := codec.NewWriter(128)
	w.WriteU64(block.Number)
	w.WriteHash(block.ParentBlockHash)
	w.WriteU64(block.Timestamp)
	w.WriteHash(block.StakeCellOwnerLockHash)
	w.WriteHash(block.PrevAccount.Root)
	w.WriteU64(block.PrevAccount.Count)
	w.WriteHash(block.PostAccount.Root)
	w.WriteU64(block.PostAccount.Count)
	return codec.Blake2b256Hash(w.Bytes())
}

// 2. Prev/post account state agreement.
func checkPrevPostAccountAgreement(prev, post gwtypes.GlobalState, block gwtypes.L2Block) error {
	if block.PrevAccount != prev.Account {
		return fmt.Errorf("%w: block.prev_account != prev.account", gwerrors.ErrInvalidBlock)
	}
	if block.PostAccount != post.Account {
		return fmt.Errorf("%w: block.post_account != post.account", gwerrors.ErrInvalidBlock)
	}
	return nil
}

// 3. Block producer & stake.
func checkStake(cfg RollupConfig, block gwtypes.L2Block, tx L1TxContext) error {
	stakeCode := cfg.CellCodeHashes[gwtypes.CellKindStake]
	var in, out *gwtypes.CellOutput
	for i := range tx.InputCells {
		c := &tx.InputCells[i]
		if c.Lock.CodeHash == stakeCode && matchesStakeOwner(c.Lock.Args, cfg.RollupTypeHash, block.StakeCellOwnerLockHash) {
			if in != nil {
				return fmt.Errorf("%w: more than one matching stake cell in inputs", gwerrors.ErrInvalidStakeCell)
			}
			in = c
		}
	}
	for i := range tx.OutputCells {
		c := &tx.OutputCells[i]
		if c.Lock.CodeHash == stakeCode && matchesStakeOwner(c.Lock.Args, cfg.RollupTypeHash, block.StakeCellOwnerLockHash) {
			if out != nil {
				return fmt.Errorf("%w: more than one matching stake cell in outputs", gwerrors.ErrInvalidStakeCell)
			}
			out = c
		}
	}
	if in == nil || out == nil {
		return fmt.Errorf("%w: missing stake cell in inputs or outputs", gwerrors.ErrInvalidStakeCell)
	}
	if in.Capacity < cfg.RequiredStakingCapacity {
		return fmt.Errorf("%w: input stake capacity %d below required %d", gwerrors.ErrInvalidStakeCell, in.Capacity, cfg.RequiredStakingCapacity)
	}
	if in.Capacity != out.Capacity {
		return fmt.Errorf("%w: stake capacity changed", gwerrors.ErrInvalidStakeCell)
	}
	inArgs, err := parseStakeArgs(in.Lock.Args)
	if err != nil {
		return err
	}
	outArgs, err := parseStakeArgs(out.Lock.Args)
	if err != nil {
		return err
	}
	if inArgs.OwnerLockHash != outArgs.OwnerLockHash {
		return fmt.Errorf("%w: stake owner_lock_hash changed", gwerrors.ErrInvalidStakeCell)
	}
	if outArgs.StakeBlockNumber != block.Number {
		return fmt.Errorf("%w: output stake_block_number must equal block.number", gwerrors.ErrInvalidStakeCell)
	}
	return nil
}

func matchesStakeOwner(args []byte, rollupTypeHash, ownerLockHash gwtypes.Hash) bool {
	if len(args) < 32+32 {
		return false
	}
	var argsRollup gwtypes.Hash
	copy(argsRollup[:], args[:32])
	if argsRollup != rollupTypeHash {
		return false
	}
	var owner gwtypes.Hash
	copy(owner[:], args[32:64])
	return owner == ownerLockHash
}

func parseStakeArgs(args []byte) (gwtypes.StakeLockArgs, error) {
	r := codec.NewReader(args[32:])
	ownerLockHash, err := r.ReadHash()
	if err != nil {
		return gwtypes.StakeLockArgs{}, fmt.Errorf("%w: stake args", gwerrors.ErrEncoding)
	}
	stakeBlockNumber, err := r.ReadU64()
	if err != nil {
		return gwtypes.StakeLockArgs{}, fmt.Errorf("%w: stake args", gwerrors.ErrEncoding)
	}
	return gwtypes.StakeLockArgs{OwnerLockHash: ownerLockHash, StakeBlockNumber: stakeBlockNumber}, nil
}

// collectAll gathers every rollup-scoped cell kind once, to avoid
// rescanning inputs/outputs per check.
func collectAll(cfg RollupConfig, tx L1TxContext) (deposits, custodiansOut, withdrawalsOut, custodiansIn, revertedWithdrawalsIn, revertedDepositsOut []cells.ParsedCell, err error) {
	deposits, err = cells.Collect(tx.InputCells, gwtypes.CellKindDeposit, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	custodiansIn, err = cells.Collect(tx.InputCells, gwtypes.CellKindCustodian, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	custodiansOut, err = cells.Collect(tx.OutputCells, gwtypes.CellKindCustodian, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	withdrawalsOut, err = cells.Collect(tx.OutputCells, gwtypes.CellKindWithdrawal, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	// An ordinary withdrawal cell is only ever minted as an output (one
	// per withdrawal request in this block) and an ordinary deposit cell
	// is only ever consumed as an input (one per user deposit). A
	// rollup-scoped withdrawal cell appearing as an *input*, or a
	// deposit cell appearing as an *output*, of a submission transaction
	// can therefore only be the revert-sweep case: custodians refunding
	// a reverted block's deposits, or custodians produced by a reverted
	// block's withdrawals being swept back. Position alone disambiguates
	// them, so no separate revert-set lookup is needed here.
	revertedWithdrawalsIn, err = cells.Collect(tx.InputCells, gwtypes.CellKindWithdrawal, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	revertedDepositsOut, err = cells.Collect(tx.OutputCells, gwtypes.CellKindDeposit, cfg.CellCodeHashes, cfg.RollupTypeHash)
	if err != nil {
		return
	}
	return
}

// 4. Deposit minting (ledger update), checked against the post account
// state externally via checkPostStateDerivation; here we only validate
// the SUDT minting guard rails.
func checkDepositMinting(cfg RollupConfig, deposits []cells.ParsedCell, block gwtypes.L2Block) error {
	for _, d := range deposits {
		zero := [16]byte{}
		if d.SudtScriptHash == cfg.CKBSudtScriptArgs && d.Amount != zero {
			return fmt.Errorf("%w: deposit mints CKB-SUDT with non-zero amount", gwerrors.ErrSUDT)
		}
	}
	return nil
}

// 5. Withdrawal cells <-> withdrawal requests.
func checkWithdrawalCells(withdrawalsOut []cells.ParsedCell, block gwtypes.L2Block, tx L1TxContext) error {
	if len(withdrawalsOut) != len(block.WithdrawalRequests) {
		return fmt.Errorf("%w: withdrawal cell count %d != request count %d", gwerrors.ErrInvalidWithdrawal, len(withdrawalsOut), len(block.WithdrawalRequests))
	}
	blockHash := HashBlock(block)
	matched := make([]bool, len(withdrawalsOut))
	for _, req := range block.WithdrawalRequests {
		found := false
		for i, wc := range withdrawalsOut {
			if matched[i] {
				continue
			}
			if wc.Withdrawal == nil {
				continue
			}
			if wc.Withdrawal.AccountScriptHash == req.AccountScriptHash &&
				wc.Withdrawal.SudtScriptHash == req.SudtScriptHash &&
				wc.Amount == req.Amount &&
				wc.Cell.Capacity == req.Capacity {
				if wc.Withdrawal.WithdrawalBlockHash != blockHash || wc.Withdrawal.WithdrawalBlockNum != block.Number {
					return fmt.Errorf("%w: withdrawal cell embedded block hash/number mismatch", gwerrors.ErrInvalidWithdrawal)
				}
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: no withdrawal cell matches request for account %s", gwerrors.ErrInvalidWithdrawal, req.AccountScriptHash)
		}
	}
	return nil
}

// 6. Custodian conservation.
func checkCustodianConservation(cfg RollupConfig, block gwtypes.L2Block, deposits, custodiansIn, custodiansOut, withdrawalsOut, revertedWithdrawalsIn, revertedDepositsOut []cells.ParsedCell, tx L1TxContext) error {
	finalizedIn, unfinalizedIn := cells.FinalityPartition(custodiansIn, tx.TipNumber, tx.TipTimestampMs, cfg.FinalityBlocks, cfg.FinalityMs)

	finalizedTotals, err := cells.SumCells(finalizedIn)
	if err != nil {
		return err
	}
	withdrawalTotals, err := cells.SumCells(withdrawalsOut)
	if err != nil {
		return err
	}
	if !finalizedTotals.Equal(withdrawalTotals) {
		return fmt.Errorf("%w: finalized input custodian assets != withdrawal output assets", gwerrors.ErrInvalidCustodianCell)
	}
	if err := matchUnfinalizedInToRevertedDepositsOut(unfinalizedIn, revertedDepositsOut); err != nil {
		return err
	}

	finalizedOut, unfinalizedOut := cells.FinalityPartition(custodiansOut, tx.TipNumber, tx.TipTimestampMs, cfg.FinalityBlocks, cfg.FinalityMs)
	revertedWithdrawalTotals, err := cells.SumCells(revertedWithdrawalsIn)
	if err != nil {
		return err
	}
	finalizedOutTotals, err := cells.SumCells(finalizedOut)
	if err != nil {
		return err
	}
	if !finalizedOutTotals.Equal(revertedWithdrawalTotals) {
		return fmt.Errorf("%w: finalized output custodian assets != reverted input withdrawal assets", gwerrors.ErrInvalidCustodianCell)
	}
	if err := matchUnfinalizedOutToDeposits(cfg, block, deposits, unfinalizedOut); err != nil {
		return err
	}
	return nil
}

// matchUnfinalizedInToRevertedDepositsOut enforces the Revert-side half
// of custodian conservation: every unfinalized input custodian must be
// refunded 1:1, by deposit_lock_args and asset amount, to an output
// reverted-deposit cell. Any residual on either side is an error.
func matchUnfinalizedInToRevertedDepositsOut(unfinalizedIn, revertedDepositsOut []cells.ParsedCell) error {
	if len(unfinalizedIn) != len(revertedDepositsOut) {
		return fmt.Errorf("%w: unfinalized input custodians must 1:1 match output reverted-deposit cells", gwerrors.ErrInvalidCustodianCell)
	}
	used := make([]bool, len(revertedDepositsOut))
	for _, c := range unfinalizedIn {
		if c.Custodian == nil {
			return fmt.Errorf("%w: unfinalized custodian missing parsed lock args", gwerrors.ErrInvalidCustodianCell)
		}
		found := false
		for i, d := range revertedDepositsOut {
			if used[i] {
				continue
			}
			if !bytes.Equal(c.Custodian.DepositLockArgs, d.Cell.Lock.Args[32:]) {
				continue
			}
			if c.Cell.Capacity == d.Cell.Capacity && c.SudtScriptHash == d.SudtScriptHash && c.Amount == d.Amount {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unfinalized custodian has no matching output reverted-deposit cell", gwerrors.ErrInvalidCustodianCell)
		}
	}
	return nil
}

// matchUnfinalizedOutToDeposits enforces the deposit->custodian fidelity
// invariant: every input deposit cell must mint exactly one unfinalized
// output custodian cell, byte-identical to cells.ToCustodian's rewrap of
// that deposit. Any residual on either side is an error.
func matchUnfinalizedOutToDeposits(cfg RollupConfig, block gwtypes.L2Block, deposits, unfinalizedOut []cells.ParsedCell) error {
	if len(unfinalizedOut) != len(deposits) {
		return fmt.Errorf("%w: unfinalized output custodians must 1:1 match input deposit cells", gwerrors.ErrInvalidCustodianCell)
	}
	blockHash := HashBlock(block)
	used := make([]bool, len(unfinalizedOut))
	for _, d := range deposits {
		minted, err := cells.ToCustodian(d, blockHash, gwtypes.NewLegacyTimepoint(block.Number), cfg.CellCodeHashes[gwtypes.CellKindCustodian], cfg.RollupTypeHash)
		if err != nil {
			return err
		}
		found := false
		for i, c := range unfinalizedOut {
			if used[i] {
				continue
			}
			if cellsEqual(c.Cell, minted) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: deposit cell has no matching minted output custodian", gwerrors.ErrInvalidCustodianCell)
		}
	}
	return nil
}

// cellsEqual compares two cell outputs field-by-field, including a
// nil-safe comparison of the optional type script.
func cellsEqual(a, b gwtypes.CellOutput) bool {
	if a.Capacity != b.Capacity {
		return false
	}
	if a.Lock.CodeHash != b.Lock.CodeHash || a.Lock.HashType != b.Lock.HashType || !bytes.Equal(a.Lock.Args, b.Lock.Args) {
		return false
	}
	if (a.Type == nil) != (b.Type == nil) {
		return false
	}
	if a.Type != nil {
		if a.Type.CodeHash != b.Type.CodeHash || a.Type.HashType != b.Type.HashType || !bytes.Equal(a.Type.Args, b.Type.Args) {
			return false
		}
	}
	return bytes.Equal(a.Data, b.Data)
}

// 7. Transactions merkle root.
func checkTxWitnessRoot(block gwtypes.L2Block) error {
	leaves := make([]gwtypes.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		leaves[i] = codec.HashL2Transaction(tx)
	}
	expected := codec.CBMTRoot(leaves)
	if expected != block.TxWitnessRoot {
		return fmt.Errorf("%w: tx_witness_root mismatch", gwerrors.ErrMerkleProof)
	}
	if len(block.StateCheckpoints) != len(block.Transactions)+len(block.WithdrawalRequests)+1 {
		return fmt.Errorf("%w: checkpoint count mismatch", gwerrors.ErrInvalidBlock)
	}
	return nil
}

// 8. No challenge cells.
func checkNoChallengeCells(cfg RollupConfig, tx L1TxContext) error {
	challengeCode := cfg.CellCodeHashes[gwtypes.CellKindChallenge]
	for _, c := range tx.InputCells {
		if c.Lock.CodeHash == challengeCode {
			return fmt.Errorf("%w: challenge cell present in inputs", gwerrors.ErrInvalidChallengeCell)
		}
	}
	for _, c := range tx.OutputCells {
		if c.Lock.CodeHash == challengeCode {
			return fmt.Errorf("%w: challenge cell present in outputs", gwerrors.ErrInvalidChallengeCell)
		}
	}
	return nil
}

// 9. Post state derivation.
func checkPostStateDerivation(cfg RollupConfig, prev, post gwtypes.GlobalState, block gwtypes.L2Block) error {
	if err := checkAccountRootDerivation(block); err != nil {
		return err
	}

	expected := prev
	expected.Account = block.PostAccount
	expected.Block = gwtypes.MerkleState{Root: post.Block.Root, Count: block.Number + 1}
	expected.TipBlockHash = HashBlock(block)
	if block.Number >= cfg.FinalityBlocks {
		expected.LastFinalizedBlockNumber = gwtypes.NewLegacyTimepoint(block.Number - cfg.FinalityBlocks)
	} else {
		expected.LastFinalizedBlockNumber = gwtypes.NewLegacyTimepoint(0)
	}
	if codec.HashGlobalState(expected) != codec.HashGlobalState(post) {
		return fmt.Errorf("%w: reconstructed post global state does not match provided", gwerrors.ErrInvalidPostGlobalState)
	}
	return nil
}

// checkAccountRootDerivation recomputes block.post_account.root from the
// block's claimed kv_pairs (every leaf deposit minting, withdrawal
// debiting, and transaction execution wrote this block) and its
// kv_state_proof, the same smt.VerifyProof machinery challenge.go uses
// to re-execute a disputed transaction. A block producer cannot submit
// an arbitrary post_account root paired with ledger updates that don't
// actually commit to it.
func checkAccountRootDerivation(block gwtypes.L2Block) error {
	proof, err := smt.DecodeProof(block.KVStateProof)
	if err != nil {
		return fmt.Errorf("%w: kv_state_proof: %v", gwerrors.ErrMerkleProof, err)
	}
	pairs := make([]smt.KV, len(block.KVPairs))
	for i, kv := range block.KVPairs {
		pairs[i] = smt.KV{Key: kv.Key, Value: kv.Value}
	}
	if !smt.VerifyProof(block.PostAccount.Root, proof, pairs) {
		return fmt.Errorf("%w: post_account.root does not reconstruct from kv_pairs/kv_state_proof", gwerrors.ErrMerkleProof)
	}
	return nil
}
