// Package generator runs one L2 transaction against a mutable state
// view and returns a run-result (writes, logs, gas used, exit code, and
// a read-set usable to build challenge proofs). The actual execution
// backend (EVM/Polyjuice, meta-contract, SUDT transfer, address
// registry) is explicitly out of scope -- it is an opaque Backend
// invoked through this harness, the same relationship a
// state-transition harness has to the opaque VM it drives without
// reimplementing it.
package generator

import (
	"fmt"

	"github.com/godwokenrises/godwoken-core/gwstate"
	"github.com/godwokenrises/godwoken-core/gwtypes"
)

// Log is one execution log entry emitted by a Backend.
type Log struct {
	AccountID gwtypes.AccountID
	Data      []byte
}

// Write records a single state mutation performed during execution, for
// inclusion in the run-result's write-set.
type Write struct {
	AccountID gwtypes.AccountID
	Key       gwtypes.Hash
	Value     gwtypes.Hash
}

// RunResult is the outcome of running one transaction.
type RunResult struct {
	Writes   []Write
	Logs     []Log
	GasUsed  uint64
	ExitCode int32
	ReadKeys []gwtypes.Hash // read-set, for challenge-proof construction
}

// Backend executes one transaction's call semantics against a view of
// state. It is the opaque, out-of-scope execution collaborator;
// Run only ever sees a TxContext and returns what it read/wrote, never
// touching gwstate.MemStateDB directly, so a real Polyjuice/meta-contract
// backend can be substituted without changing this package.
type Backend interface {
	Run(ctx TxContext, tx gwtypes.L2Transaction) (RunResult, error)
}

// TxContext exposes the minimal state-reading surface a Backend needs.
type TxContext struct {
	SenderScript   gwtypes.Script
	ReceiverScript gwtypes.Script
	SenderNonce    uint32
}

// AlwaysSuccessBackend is a trivial Backend used for tests and for
// lock-algorithm-only paths (e.g. always-success lock): it performs no
// state writes and always succeeds, mirroring a
// "no-op VM" test doubles.
type AlwaysSuccessBackend struct{}

// Run implements Backend.
func (AlwaysSuccessBackend) Run(ctx TxContext, tx gwtypes.L2Transaction) (RunResult, error) {
	return RunResult{GasUsed: 0, ExitCode: 0}, nil
}

// Generator drives one transaction through a Backend against a
// MemStateDB, applying the resulting writes and bumping the sender's
// nonce. It mirrors core/processor.go's apply-one-tx shape.
type Generator struct {
	backend Backend
}

// NewGenerator constructs a Generator over the given Backend.
func NewGenerator(backend Backend) *Generator {
	return &Generator{backend: backend}
}

// Apply runs tx against db, applies its write-set, and bumps the
// sender's nonce, returning the RunResult for receipt/challenge use.
func (g *Generator) Apply(db *gwstate.MemStateDB, tx gwtypes.L2Transaction) (RunResult, error) {
	if got := db.GetNonce(tx.FromID); got != tx.Nonce {
		return RunResult{}, fmt.Errorf("generator: nonce mismatch for account %d: want %d, got %d", tx.FromID, got, tx.Nonce)
	}
	senderScript, err := db.GetScriptHash(tx.FromID)
	if err != nil {
		return RunResult{}, fmt.Errorf("generator: sender account %d: %w", tx.FromID, err)
	}
	receiverScript, err := db.GetScriptHash(tx.ToID)
	if err != nil {
		return RunResult{}, fmt.Errorf("generator: receiver account %d: %w", tx.ToID, err)
	}
	ctx := TxContext{
		SenderScript:   gwtypes.Script{CodeHash: senderScript},
		ReceiverScript: gwtypes.Script{CodeHash: receiverScript},
		SenderNonce:    tx.Nonce,
	}
	result, err := g.backend.Run(ctx, tx)
	if err != nil {
		return RunResult{}, err
	}
	for _, w := range result.Writes {
		db.SetStorage(w.AccountID, w.Key, w.Value)
	}
	db.SetNonce(tx.FromID, tx.Nonce+1)
	return result, nil
}
