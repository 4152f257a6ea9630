// Package challenge implements the on-L1 dispute lifecycle over a
// rollup block: EnterChallenge halts the chain on a disputed target,
// CancelChallenge lets a defender construct one of three verifier
// rebuttals, and Revert advances the reverted-block set when no valid
// cancel arrives before the challenge window closes.
//
// Grounded on a dispute -> proof -> resolve/slash cell lifecycle,
// generalized to the three ChallengeTargetType variants (withdrawal
// signature, transaction signature, transaction execution).
package challenge

import (
	"fmt"

	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/generator"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwstate"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/lockalgo"
	"github.com/godwokenrises/godwoken-core/smt"
)

// Config carries the fixed cancel-challenge reward parameters.
type Config struct {
	RewardBurnRatePercent uint8
	BurnLockHash          gwtypes.Hash
}

// EnterChallenge moves global state from Running to Halting over a
// disputed target. Allowed only while Running, and only against a block
// that has not yet finalized: targetBlockNumber + finalityBlocks > tipNumber.
func EnterChallenge(state gwtypes.GlobalState, targetBlockNumber, tipNumber, finalityBlocks uint64, target gwtypes.ChallengeTarget) (gwtypes.GlobalState, error) {
	if state.Status != gwtypes.StatusRunning {
		return state, fmt.Errorf("%w: challenge only allowed while Running", gwerrors.ErrInvalidChallengeCell)
	}
	if targetBlockNumber+finalityBlocks <= tipNumber {
		return state, fmt.Errorf("%w: targeted block is already finalized", gwerrors.ErrInvalidChallengeCell)
	}
	next := state
	next.Status = gwtypes.StatusHalting
	return next, nil
}

// CheckSingleActiveChallenge enforces that at most one challenge cell
// appears across the inputs and outputs of a non-revert L1 transaction.
func CheckSingleActiveChallenge(inputCells, outputCells []gwtypes.CellOutput, challengeCodeHash gwtypes.Hash) error {
	count := 0
	for _, c := range inputCells {
		if c.Lock.CodeHash == challengeCodeHash {
			count++
		}
	}
	for _, c := range outputCells {
		if c.Lock.CodeHash == challengeCodeHash {
			count++
		}
	}
	if count > 1 {
		return fmt.Errorf("%w: more than one challenge cell in this transaction", gwerrors.ErrInvalidChallengeCell)
	}
	return nil
}

// LoadDataStrategy selects how a TxExecution verifier's read-data blobs
// reach the on-chain rebuttal, chosen per blob size.
type LoadDataStrategy int

const (
	LoadDataWitnessEmbedded LoadDataStrategy = iota
	LoadDataCellDepReferenced
)

// WithdrawalWitness is the rebuttal witness for a Withdrawal-type
// challenge.
type WithdrawalWitness struct {
	OwnerLockHash  gwtypes.Hash
	RollupTypeHash gwtypes.Hash
	Withdrawal     gwtypes.WithdrawalRequest
}

// BuildWithdrawalWitness assembles the rebuttal witness for a disputed
// withdrawal request.
func BuildWithdrawalWitness(w gwtypes.WithdrawalRequest, ownerLockHash, rollupTypeHash gwtypes.Hash) WithdrawalWitness {
	return WithdrawalWitness{OwnerLockHash: ownerLockHash, RollupTypeHash: rollupTypeHash, Withdrawal: w}
}

// VerifierLockData returns the verifier cell's data payload:
// owner_lock_hash || H(withdrawal.raw || rollup_type_hash).
func (w WithdrawalWitness) VerifierLockData() []byte {
	buf := append(append([]byte(nil), w.Withdrawal.Raw()...), w.RollupTypeHash[:]...)
	h := codec.Blake2b256Hash(buf)
	out := make([]byte, 0, 64)
	out = append(out, w.OwnerLockHash[:]...)
	out = append(out, h[:]...)
	return out
}

// CancelWithdrawalChallenge verifies the withdrawal's own signature
// against senderScript -- the withdrawing account's L2 lock, looked up
// by the caller from state -- using the lock algorithm senderScript's
// code hash identifies. A nil error means the cancel succeeds.
func CancelWithdrawalChallenge(kind lockalgo.Kind, senderScript gwtypes.Script, witness WithdrawalWitness) error {
	return lockalgo.VerifyWithdrawal(kind, senderScript, witness.Withdrawal)
}

// TxSignatureWitness is the rebuttal witness for a TxSignature-type
// challenge.
type TxSignatureWitness struct {
	OwnerLockHash      gwtypes.Hash
	RollupTypeHash     gwtypes.Hash
	SenderScriptHash   gwtypes.Hash
	ReceiverScriptHash gwtypes.Hash
	Tx                 gwtypes.L2Transaction
}

// BuildTxSignatureWitness assembles the rebuttal witness for a disputed
// transaction signature. The sender/receiver script hashes are supplied
// by the caller; this function performs no state lookup.
func BuildTxSignatureWitness(tx gwtypes.L2Transaction, ownerLockHash, rollupTypeHash, senderScriptHash, receiverScriptHash gwtypes.Hash) TxSignatureWitness {
	return TxSignatureWitness{
		OwnerLockHash:      ownerLockHash,
		RollupTypeHash:     rollupTypeHash,
		SenderScriptHash:   senderScriptHash,
		ReceiverScriptHash: receiverScriptHash,
		Tx:                 tx,
	}
}

// VerifierLockData returns owner_lock_hash || H(tx.raw || rollup_type_hash
// || sender_script_hash || receiver_script_hash).
func (w TxSignatureWitness) VerifierLockData() []byte {
	buf := append([]byte(nil), w.Tx.Raw()...)
	buf = append(buf, w.RollupTypeHash[:]...)
	buf = append(buf, w.SenderScriptHash[:]...)
	buf = append(buf, w.ReceiverScriptHash[:]...)
	h := codec.Blake2b256Hash(buf)
	out := make([]byte, 0, 64)
	out = append(out, w.OwnerLockHash[:]...)
	out = append(out, h[:]...)
	return out
}

// CancelTxSignatureChallenge verifies the disputed transaction's
// signature against senderScript, via the lock algorithm senderScript's
// code hash identifies.
func CancelTxSignatureChallenge(kind lockalgo.Kind, cfg lockalgo.ChainConfig, senderScript, receiverScript gwtypes.Script, witness TxSignatureWitness) error {
	return lockalgo.VerifyTx(kind, cfg, senderScript, receiverScript, witness.Tx)
}

// TxExecutionWitness is the rebuttal witness for a TxExecution-type
// challenge: the full re-execution context the on-chain verifier needs
// to replay the disputed transaction against its proven pre-state.
type TxExecutionWitness struct {
	Tx                 gwtypes.L2Transaction
	AccountCount       uint64
	PreStatePairs      []smt.KV
	PreStateProof      *smt.Proof
	ReadData           map[gwtypes.Hash][]byte
	Strategy           LoadDataStrategy
	ExpectedCheckpoint gwtypes.StateCheckpoint
}

// BuildTxExecutionWitness assembles the full re-execution witness for a
// disputed transaction.
func BuildTxExecutionWitness(tx gwtypes.L2Transaction, accountCount uint64, preStatePairs []smt.KV, preStateProof *smt.Proof, readData map[gwtypes.Hash][]byte, strategy LoadDataStrategy, expectedCheckpoint gwtypes.StateCheckpoint) TxExecutionWitness {
	return TxExecutionWitness{
		Tx:                 tx,
		AccountCount:       accountCount,
		PreStatePairs:      preStatePairs,
		PreStateProof:      preStateProof,
		ReadData:           readData,
		Strategy:           strategy,
		ExpectedCheckpoint: expectedCheckpoint,
	}
}

// CancelTxExecutionChallenge verifies the witness's pre-state proof
// against preStateRoot, re-executes the disputed transaction through
// backend against that proven pre-state, and asserts the resulting
// post-state checkpoint matches the block's checkpoint at this tx index.
func CancelTxExecutionChallenge(backend generator.Backend, preStateRoot gwtypes.Hash, witness TxExecutionWitness) error {
	if !smt.VerifyProof(preStateRoot, witness.PreStateProof, witness.PreStatePairs) {
		return fmt.Errorf("%w: pre-state proof does not verify against the disputed block's prev-account root", gwerrors.ErrMerkleProof)
	}
	db := gwstate.LoadFromPairs(witness.PreStatePairs, witness.AccountCount)
	gen := generator.NewGenerator(backend)
	if _, err := gen.Apply(db, witness.Tx); err != nil {
		return fmt.Errorf("%w: re-execution failed: %v", gwerrors.ErrInvalidChallengeCell, err)
	}
	if got := db.Checkpoint(); got != witness.ExpectedCheckpoint {
		return fmt.Errorf("%w: post-state checkpoint mismatch at the disputed tx index", gwerrors.ErrInvalidChallengeCell)
	}
	return nil
}

// revertedFlag is the committed value for a reverted block's leaf; any
// non-zero value would do, this one is chosen for readability in tests.
var revertedFlag = gwtypes.Hash{0: 1}

// RevertedBlockSet tracks the block hashes reverted via Revert, committed
// to a dedicated SMT keyed by block_hash -> revertedFlag. The tree never
// removes a leaf, so its root forms a chain that only ever grows.
type RevertedBlockSet struct {
	leaves []smt.KV
}

// NewRevertedBlockSet seeds a set from previously committed leaves, e.g.
// when resuming from the store.
func NewRevertedBlockSet(leaves []smt.KV) *RevertedBlockSet {
	return &RevertedBlockSet{leaves: append([]smt.KV(nil), leaves...)}
}

// Root returns the SMT root committing every block reverted so far.
func (s *RevertedBlockSet) Root() gwtypes.Hash {
	return smt.ComputeRoot(s.leaves)
}

// Insert marks blockHash as reverted.
func (s *RevertedBlockSet) Insert(blockHash gwtypes.Hash) {
	s.leaves = append(s.leaves, smt.KV{Key: blockHash, Value: revertedFlag})
}

// Revert advances state past a challenge window expiry with no valid
// cancel: the disputed block becomes reverted, the tip rolls back to its
// parent, and the reverted-block root advances monotonically.
func Revert(state gwtypes.GlobalState, set *RevertedBlockSet, blockHash, parentBlockHash gwtypes.Hash, parentBlock gwtypes.MerkleState) (gwtypes.GlobalState, error) {
	if state.Status != gwtypes.StatusHalting {
		return state, fmt.Errorf("%w: revert only allowed while Halting", gwerrors.ErrInvalidChallengeCell)
	}
	prevRoot := set.Root()
	set.Insert(blockHash)
	newRoot := set.Root()
	if newRoot == prevRoot {
		return state, fmt.Errorf("%w: reverted-block root failed to advance", gwerrors.ErrInvalidChallengeCell)
	}
	next := state
	next.Status = gwtypes.StatusRunning
	next.TipBlockHash = parentBlockHash
	next.Block = parentBlock
	next.RevertedBlockRoot = newRoot
	return next, nil
}

// SplitChallengeReward computes the (burned, defender) split of a
// challenge cell's capacity on a successful cancel, at
// cfg.RewardBurnRatePercent.
func SplitChallengeReward(cfg Config, challengeCellCapacity uint64) (burned, defender uint64) {
	burned = challengeCellCapacity * uint64(cfg.RewardBurnRatePercent) / 100
	defender = challengeCellCapacity - burned
	return
}

// SplitCapacityIntoCells splits total capacity into a list of per-cell
// amounts, none exceeding maxPerCell, for paying out a reward that
// exceeds one cell's capacity ceiling.
func SplitCapacityIntoCells(total, maxPerCell uint64) []uint64 {
	if maxPerCell == 0 || total <= maxPerCell {
		return []uint64{total}
	}
	var out []uint64
	remaining := total
	for remaining > maxPerCell {
		out = append(out, maxPerCell)
		remaining -= maxPerCell
	}
	if remaining > 0 {
		out = append(out, remaining)
	}
	return out
}
