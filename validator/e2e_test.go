package validator

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/gwerrors"
	"github.com/godwokenrises/godwoken-core/gwstate"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/smt"
)

var (
	custodianCodeHash  = gwtypes.Hash{0x02}
	depositCodeHash    = gwtypes.Hash{0x01}
	withdrawalCodeHash = gwtypes.Hash{0x03}
)

func e2eConfig(rollupTypeHash gwtypes.Hash) RollupConfig {
	return RollupConfig{
		RollupTypeHash:          rollupTypeHash,
		RequiredStakingCapacity: 1000,
		FinalityBlocks:          5,
		CellCodeHashes: cells.KindCodeHashes{
			gwtypes.CellKindStake:      stakeCodeHash,
			gwtypes.CellKindDeposit:    depositCodeHash,
			gwtypes.CellKindCustodian:  custodianCodeHash,
			gwtypes.CellKindWithdrawal: withdrawalCodeHash,
			gwtypes.CellKindChallenge:  gwtypes.Hash{0x04},
		},
	}
}

func balanceHash(amount uint64) gwtypes.Hash {
	b := new(uint256.Int).SetUint64(amount).Bytes32()
	return gwtypes.Hash(b)
}

// depositArgsSuffix builds the part of a deposit cell's lock args that
// comes after the 32-byte rollup_type_hash prefix every rollup-scoped
// cell's args start with.
func depositArgsSuffix(ownerLockHash gwtypes.Hash, layer2Lock gwtypes.Script) []byte {
	w := codec.NewWriter(0)
	w.WriteHash(ownerLockHash)
	w.WriteScript(layer2Lock)
	w.WriteU64(0) // cancel_timeout
	w.WriteU32(0) // registry_id
	return w.Bytes()
}

func depositCellArgs(rollupTypeHash, ownerLockHash gwtypes.Hash, layer2Lock gwtypes.Script) []byte {
	return append(append([]byte{}, rollupTypeHash[:]...), depositArgsSuffix(ownerLockHash, layer2Lock)...)
}

// depositThenWithdrawCells builds the transaction cells and block for a
// single block that credits a fresh L2 account from one deposit cell
// and immediately withdraws part of it, funded by one already-finalized
// custodian cell. withdrawalCapacity is varied by the caller to also
// exercise the conservation-violation rejection path.
func depositThenWithdrawCells(t *testing.T, withdrawalCapacity uint64) (RollupConfig, gwtypes.GlobalState, gwtypes.GlobalState, gwtypes.L2Block, L1TxContext) {
	t.Helper()
	rollupTypeHash := gwtypes.Hash{0xAA}
	cfg := e2eConfig(rollupTypeHash)
	stakeOwnerLockHash := gwtypes.Hash{0xBB}
	depositOwnerLockHash := gwtypes.Hash{0xCC}
	layer2Lock := gwtypes.Script{CodeHash: gwtypes.Hash{0x20}, Args: []byte{0x01}}
	depositorScriptHash := codec.HashScript(layer2Lock)

	const blockNumber = 10
	const depositCapacity = 500_00000000 // 500 CKB; comfortably covers the minted custodian cell's occupied capacity
	const finalizedCustodianCapacity = 250_00000000 // 250 CKB; likewise covers its own occupied capacity

	prev := gwtypes.GlobalState{
		Account: gwtypes.MerkleState{Root: smt.ComputeRoot(nil), Count: 0},
		Block:   gwtypes.MerkleState{Root: gwtypes.Hash{0x09}, Count: blockNumber},
		Status:  gwtypes.StatusRunning,
	}

	// Simulate applying the deposit then the withdrawal against a fresh
	// state database, the same way a producer would, to derive a
	// genuinely reconstructible post_account root and kv_state_proof.
	db := gwstate.NewMemStateDB(0)
	mark := db.Snapshot()
	const depositorID = gwtypes.AccountID(4)
	if err := db.CreateAccount(depositorID, depositorScriptHash); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	db.SetStorage(depositorID, gwtypes.Hash{}, balanceHash(depositCapacity))
	db.SetStorage(depositorID, gwtypes.Hash{}, balanceHash(depositCapacity-withdrawalCapacity))
	db.SetNonce(depositorID, 1)

	changed := db.ChangedKeys(mark)
	touchedKeys := make([]gwtypes.Hash, len(changed))
	kvPairs := make([]gwtypes.KVPair, len(changed))
	for i, kv := range changed {
		touchedKeys[i] = kv.Key
		kvPairs[i] = gwtypes.KVPair{Key: kv.Key, Value: kv.Value}
	}
	kvProof := smt.GenerateProof(db.Pairs(), touchedKeys)

	block := gwtypes.L2Block{
		Number:                 blockNumber,
		ParentBlockHash:        prev.TipBlockHash,
		StakeCellOwnerLockHash: stakeOwnerLockHash,
		PrevAccount:            prev.Account,
		PostAccount:            db.MerkleState(),
		DepositRequests: []gwtypes.DepositRequest{
			{Capacity: depositCapacity, Script: layer2Lock},
		},
		WithdrawalRequests: []gwtypes.WithdrawalRequest{
			{Nonce: 0, Capacity: withdrawalCapacity, AccountScriptHash: depositorScriptHash, OwnerLockHash: depositOwnerLockHash},
		},
		BlockProof:       []byte{0x01},
		TxWitnessRoot:    codec.CBMTRoot(nil),
		KVPairs:          kvPairs,
		KVStateProof:     smt.EncodeProof(kvProof),
		StateCheckpoints: []gwtypes.StateCheckpoint{{}, {}},
	}
	blockHash := HashBlock(block)

	stakeIn := gwtypes.CellOutput{Capacity: 2000, Lock: gwtypes.Script{CodeHash: stakeCodeHash, Args: stakeArgs(rollupTypeHash, stakeOwnerLockHash, blockNumber-1)}}
	stakeOut := gwtypes.CellOutput{Capacity: 2000, Lock: gwtypes.Script{CodeHash: stakeCodeHash, Args: stakeArgs(rollupTypeHash, stakeOwnerLockHash, blockNumber)}}

	depositArgs := depositCellArgs(rollupTypeHash, depositOwnerLockHash, layer2Lock)
	depositInputCell := gwtypes.CellOutput{Capacity: depositCapacity, Lock: gwtypes.Script{CodeHash: depositCodeHash, HashType: gwtypes.HashTypeType, Args: depositArgs}}

	// An older, already-finalized custodian cell funding the withdrawal.
	// ToCustodian strips the first 32 bytes of Lock.Args as the
	// rollup_type_hash prefix, so the fixture's raw deposit cell needs
	// that prefix even though it is never collected as a deposit cell.
	oldDeposit := cells.ParsedCell{Cell: gwtypes.CellOutput{Capacity: finalizedCustodianCapacity, Lock: gwtypes.Script{Args: depositCellArgs(rollupTypeHash, depositOwnerLockHash, layer2Lock)}}}
	finalizedCustodianIn, err := cells.ToCustodian(oldDeposit, gwtypes.Hash{0x11}, gwtypes.NewLegacyTimepoint(0), custodianCodeHash, rollupTypeHash)
	if err != nil {
		t.Fatalf("building finalized custodian input: %v", err)
	}

	// This block's own deposit, minted forward into an unfinalized
	// custodian cell exactly as matchUnfinalizedOutToDeposits expects.
	newDeposit := cells.ParsedCell{Cell: depositInputCell}
	mintedCustodianOut, err := cells.ToCustodian(newDeposit, blockHash, gwtypes.NewLegacyTimepoint(block.Number), custodianCodeHash, rollupTypeHash)
	if err != nil {
		t.Fatalf("building minted custodian output: %v", err)
	}

	ownerLock := gwtypes.Script{CodeHash: gwtypes.Hash{0x30}, Args: []byte{0x02}}
	withdrawalOut := cells.ToWithdrawal(block.WithdrawalRequests[0], blockHash, block.Number, withdrawalCodeHash, rollupTypeHash, ownerLock, nil)

	tx := L1TxContext{
		InputCells:     []gwtypes.CellOutput{stakeIn, depositInputCell, finalizedCustodianIn},
		OutputCells:    []gwtypes.CellOutput{stakeOut, mintedCustodianOut, withdrawalOut},
		TipNumber:      blockNumber + 1,
		TipTimestampMs: 0,
	}

	post := prev
	post.Account = block.PostAccount
	post.Block = gwtypes.MerkleState{Root: prev.Block.Root, Count: block.Number + 1}
	post.TipBlockHash = blockHash
	post.LastFinalizedBlockNumber = gwtypes.NewLegacyTimepoint(block.Number - cfg.FinalityBlocks)

	return cfg, prev, post, block, tx
}

func TestSubmitBlockDepositThenWithdraw(t *testing.T) {
	cfg, prev, post, block, tx := depositThenWithdrawCells(t, 250_00000000)
	if err := SubmitBlock(cfg, prev, post, block, tx); err != nil {
		t.Fatalf("expected valid deposit-then-withdraw submission, got %v", err)
	}
}

func TestSubmitBlockRejectsConservationViolation(t *testing.T) {
	// The finalized custodian input is fixed at 250 CKB; asking the
	// withdrawal to pay out more than that breaks finalized-custodian
	// conservation even though the withdrawal request and its output
	// cell still agree with each other.
	cfg, prev, post, block, tx := depositThenWithdrawCells(t, 260_00000000)
	err := SubmitBlock(cfg, prev, post, block, tx)
	if err == nil {
		t.Fatal("expected rejection for a custodian conservation violation")
	}
	if !errors.Is(err, gwerrors.ErrInvalidCustodianCell) {
		t.Fatalf("expected ErrInvalidCustodianCell, got %v", err)
	}
}
