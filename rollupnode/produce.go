package rollupnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/godwokenrises/godwoken-core/cells"
	"github.com/godwokenrises/godwoken-core/codec"
	"github.com/godwokenrises/godwoken-core/feequeue"
	"github.com/godwokenrises/godwoken-core/generator"
	"github.com/godwokenrises/godwoken-core/gwstate"
	"github.com/godwokenrises/godwoken-core/gwtypes"
	"github.com/godwokenrises/godwoken-core/psc"
	"github.com/godwokenrises/godwoken-core/smt"
	"github.com/godwokenrises/godwoken-core/validator"
)

// TipState is everything a Producer needs to build the next block: the
// previous block's committed global state, the account SMT's full
// committed pair set (seeding a fresh gwstate.MemStateDB exactly the way
// challenge.CancelTxExecutionChallenge seeds one from a proof's
// pre-state pairs), and the block-number SMT's leaf set.
type TipState struct {
	GlobalState            gwtypes.GlobalState
	AccountPairs           []smt.KV
	BlockTreeLeaves        []smt.KV
	StakeCellOwnerLockHash gwtypes.Hash
	FinalityBlocks         uint64
}

// TipSource resolves the chain tip and the pending work a Producer
// sequences into the next block. It is the seam a store-backed chain
// view and an L1 deposit-cell indexer plug into.
type TipSource interface {
	Tip(ctx context.Context) (TipState, error)
	PendingDeposits(ctx context.Context) ([]cells.ParsedCell, error)
}

// BlockTree commits the rollup's block_number -> block_hash mapping to
// an SMT, the same leaf-append idiom challenge.RevertedBlockSet uses for
// the reverted-block set, keyed by block number here instead of by hash.
type BlockTree struct {
	leaves []smt.KV
}

// NewBlockTree seeds a tree from previously committed leaves.
func NewBlockTree(leaves []smt.KV) *BlockTree {
	return &BlockTree{leaves: append([]smt.KV(nil), leaves...)}
}

func blockNumberKey(number uint64) gwtypes.Hash {
	var k gwtypes.Hash
	w := codec.NewWriter(8)
	w.WriteU64(number)
	copy(k[:8], w.Bytes())
	return k
}

// Insert commits blockHash at number and returns the new root together
// with a proof for that single key generated against the leaves as they
// were before the insert. Nothing in this module verifies this proof;
// the validator only checks that a block proof is present.
func (t *BlockTree) Insert(number uint64, blockHash gwtypes.Hash) (gwtypes.Hash, *smt.Proof) {
	key := blockNumberKey(number)
	proof := smt.GenerateProof(t.leaves, []gwtypes.Hash{key})
	t.leaves = append(t.leaves, smt.KV{Key: key, Value: blockHash})
	return smt.ComputeRoot(t.leaves), proof
}

// Producer implements psc.Producer: it applies pending deposits, then
// drains the fee queue, against a fresh MemStateDB seeded from the
// current tip, and assembles the resulting block plus its kv-proof and
// block-linkage witnesses.
//
// Grounded on the same propose/assemble split as the Submitter half,
// generalized from sequencing signed L1 transactions to sequencing L2
// deposits, withdrawals, and transactions into one rollup block.
type Producer struct {
	tip            TipSource
	queue          *feequeue.Queue
	backend        generator.Backend
	maxTxsPerBlock int
	now            func() time.Time
}

// NewProducer constructs a Producer over the given collaborators.
func NewProducer(tip TipSource, queue *feequeue.Queue, backend generator.Backend, maxTxsPerBlock int) *Producer {
	return &Producer{tip: tip, queue: queue, backend: backend, maxTxsPerBlock: maxTxsPerBlock, now: time.Now}
}

var _ psc.Producer = (*Producer)(nil)

// Produce implements psc.Producer.
func (p *Producer) Produce(ctx context.Context) (psc.ProducedBlock, error) {
	tip, err := p.tip.Tip(ctx)
	if err != nil {
		return psc.ProducedBlock{}, fmt.Errorf("rollupnode: tip: %w", err)
	}
	db := gwstate.LoadFromPairs(tip.AccountPairs, tip.GlobalState.Account.Count)
	mark := db.Snapshot()

	deposits, err := p.tip.PendingDeposits(ctx)
	if err != nil {
		return psc.ProducedBlock{}, fmt.Errorf("rollupnode: pending deposits: %w", err)
	}
	depositRequests := make([]gwtypes.DepositRequest, len(deposits))
	var checkpoints []gwtypes.StateCheckpoint
	for i, d := range deposits {
		req, err := applyDeposit(db, d)
		if err != nil {
			return psc.ProducedBlock{}, fmt.Errorf("rollupnode: applying deposit %d: %w", i, err)
		}
		depositRequests[i] = req
	}
	checkpoints = append(checkpoints, db.Checkpoint())

	onChainNonce := make(map[gwtypes.Hash]uint64)
	for _, sender := range p.queue.Senders() {
		if id, ok := db.AccountIDByScriptHash(sender); ok {
			onChainNonce[sender] = uint64(db.GetNonce(id))
		}
	}
	entries := p.queue.Fetch(onChainNonce, p.maxTxsPerBlock)

	var withdrawalRequests []gwtypes.WithdrawalRequest
	var l2Txs []gwtypes.L2Transaction
	gen := generator.NewGenerator(p.backend)
	for _, e := range entries {
		switch item := e.Item.(type) {
		case gwtypes.WithdrawalRequest:
			if err := applyWithdrawal(db, item); err != nil {
				return psc.ProducedBlock{}, fmt.Errorf("rollupnode: applying withdrawal from sender %s: %w", e.Sender, err)
			}
			withdrawalRequests = append(withdrawalRequests, item)
			checkpoints = append(checkpoints, db.Checkpoint())
		case gwtypes.L2Transaction:
			if _, err := gen.Apply(db, item); err != nil {
				return psc.ProducedBlock{}, fmt.Errorf("rollupnode: applying tx from sender %s: %w", e.Sender, err)
			}
			l2Txs = append(l2Txs, item)
			checkpoints = append(checkpoints, db.Checkpoint())
		default:
			return psc.ProducedBlock{}, fmt.Errorf("rollupnode: fee queue entry from sender %s carries an unrecognized item type", e.Sender)
		}
	}

	changed := db.ChangedKeys(mark)
	touchedKeys := make([]gwtypes.Hash, len(changed))
	kvPairs := make([]gwtypes.KVPair, len(changed))
	for i, kv := range changed {
		touchedKeys[i] = kv.Key
		kvPairs[i] = gwtypes.KVPair{Key: kv.Key, Value: kv.Value}
	}
	kvProof := smt.GenerateProof(db.Pairs(), touchedKeys)

	txHashes := make([]gwtypes.Hash, len(l2Txs))
	for i, tx := range l2Txs {
		txHashes[i] = codec.HashL2Transaction(tx)
	}

	block := gwtypes.L2Block{
		Number:                 tip.GlobalState.Block.Count,
		ParentBlockHash:        tip.GlobalState.TipBlockHash,
		Timestamp:              uint64(p.now().UnixMilli()),
		StakeCellOwnerLockHash: tip.StakeCellOwnerLockHash,
		PrevAccount:            tip.GlobalState.Account,
		PostAccount:            db.MerkleState(),
		DepositRequests:        depositRequests,
		WithdrawalRequests:     withdrawalRequests,
		Transactions:           l2Txs,
		TxWitnessRoot:          codec.CBMTRoot(txHashes),
		KVPairs:                kvPairs,
		KVStateProof:           smt.EncodeProof(kvProof),
		StateCheckpoints:       checkpoints,
	}

	blockHash := validator.HashBlock(block)
	blockTree := NewBlockTree(tip.BlockTreeLeaves)
	blockRoot, blockProof := blockTree.Insert(block.Number, blockHash)
	block.BlockProof = smt.EncodeProof(blockProof)

	post := tip.GlobalState
	post.Account = block.PostAccount
	post.Block = gwtypes.MerkleState{Root: blockRoot, Count: block.Number + 1}
	post.TipBlockHash = blockHash
	if block.Number >= tip.FinalityBlocks {
		post.LastFinalizedBlockNumber = gwtypes.NewLegacyTimepoint(block.Number - tip.FinalityBlocks)
	} else {
		post.LastFinalizedBlockNumber = gwtypes.NewLegacyTimepoint(0)
	}

	return psc.ProducedBlock{Block: block, PostState: post}, nil
}

// ledger storage convention: an account's balance for a given SUDT type
// (the zero hash for CKB itself) lives at the storage slot keyed by that
// sudt_script_hash, holding the u256-big-endian balance. Deposit/
// withdrawal bridging credits and debits this slot directly; ordinary L2
// transfers go through generator.Backend instead (SUDT transfer is named
// among its in-scope operations), so this ledger convention is only ever
// touched here and never by Backend.Run.
func getBalance(db *gwstate.MemStateDB, id gwtypes.AccountID, sudtScriptHash gwtypes.Hash) *uint256.Int {
	v := db.GetStorage(id, sudtScriptHash)
	return new(uint256.Int).SetBytes(v[:])
}

func setBalance(db *gwstate.MemStateDB, id gwtypes.AccountID, sudtScriptHash gwtypes.Hash, bal *uint256.Int) {
	b32 := bal.Bytes32()
	db.SetStorage(id, sudtScriptHash, gwtypes.Hash(b32))
}

func creditBalance(db *gwstate.MemStateDB, id gwtypes.AccountID, sudtScriptHash gwtypes.Hash, delta *uint256.Int) {
	setBalance(db, id, sudtScriptHash, new(uint256.Int).Add(getBalance(db, id, sudtScriptHash), delta))
}

var errInsufficientLedgerBalance = errors.New("rollupnode: insufficient ledger balance")

func debitBalance(db *gwstate.MemStateDB, id gwtypes.AccountID, sudtScriptHash gwtypes.Hash, delta *uint256.Int) error {
	bal := getBalance(db, id, sudtScriptHash)
	if bal.Cmp(delta) < 0 {
		return errInsufficientLedgerBalance
	}
	setBalance(db, id, sudtScriptHash, new(uint256.Int).Sub(bal, delta))
	return nil
}

// u128LEToUint256 decodes a little-endian u128 amount, the same
// wire-format conversion custodian.u128FromLE performs for custodian
// cell amounts.
func u128LEToUint256(b [16]byte) *uint256.Int {
	be := make([]byte, 16)
	for i := range b {
		be[i] = b[15-i]
	}
	return new(uint256.Int).SetBytes(be)
}

// applyDeposit resolves or creates the depositor's L2 account and
// credits its CKB and (if present) SUDT balance, returning the
// DepositRequest recorded into the block body.
func applyDeposit(db *gwstate.MemStateDB, d cells.ParsedCell) (gwtypes.DepositRequest, error) {
	if d.Deposit == nil {
		return gwtypes.DepositRequest{}, fmt.Errorf("rollupnode: deposit cell missing parsed lock args")
	}
	scriptHash := codec.HashScript(d.Deposit.Layer2Lock)
	id, ok := db.AccountIDByScriptHash(scriptHash)
	if !ok {
		id = gwtypes.AccountID(db.AccountCount())
		if err := db.CreateAccount(id, scriptHash); err != nil {
			return gwtypes.DepositRequest{}, err
		}
	}
	creditBalance(db, id, gwtypes.Hash{}, new(uint256.Int).SetUint64(d.Cell.Capacity))
	if d.SudtScriptHash != (gwtypes.Hash{}) {
		creditBalance(db, id, d.SudtScriptHash, u128LEToUint256(d.Amount))
	}
	return gwtypes.DepositRequest{
		Capacity:       d.Cell.Capacity,
		Amount:         d.Amount,
		SudtScriptHash: d.SudtScriptHash,
		Script:         d.Deposit.Layer2Lock,
	}, nil
}

// applyWithdrawal checks the withdrawing account's nonce, debits its
// CKB and (if present) SUDT balance, and bumps its nonce.
func applyWithdrawal(db *gwstate.MemStateDB, w gwtypes.WithdrawalRequest) error {
	id, ok := db.AccountIDByScriptHash(w.AccountScriptHash)
	if !ok {
		return fmt.Errorf("rollupnode: withdrawal from unknown account %s", w.AccountScriptHash)
	}
	if got := db.GetNonce(id); got != w.Nonce {
		return fmt.Errorf("rollupnode: withdrawal nonce mismatch: want %d, got %d", got, w.Nonce)
	}
	if err := debitBalance(db, id, gwtypes.Hash{}, new(uint256.Int).SetUint64(w.Capacity)); err != nil {
		return err
	}
	if w.SudtScriptHash != (gwtypes.Hash{}) {
		if err := debitBalance(db, id, w.SudtScriptHash, u128LEToUint256(w.Amount)); err != nil {
			return err
		}
	}
	db.SetNonce(id, w.Nonce+1)
	return nil
}
